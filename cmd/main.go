package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"planka-mail-bridge/internal/config"
	"planka-mail-bridge/internal/dispatch"
	imapclient "planka-mail-bridge/internal/imap"
	"planka-mail-bridge/internal/journal"
	"planka-mail-bridge/internal/logging"
	"planka-mail-bridge/internal/mailbox"
	"planka-mail-bridge/internal/models"
	"planka-mail-bridge/internal/planka"

	"github.com/spf13/cobra"
)

var imapFailureCount atomic.Int32

const failureSleepDuration = 30 * time.Minute

var (
	configPath string
	runOnce    bool
)

var rootCmd = &cobra.Command{
	Use:   "planka-mail-bridge",
	Short: "Turns emails into Planka cards",
	Long: `planka-mail-bridge polls an IMAP inbox, creates a Planka card for every
email carrying an X-Planka-Board-Id header, then files the email into the
accepted or rejected mailbox.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.Flags().BoolVar(&runOnce, "once", false, "process the inbox once and exit")
	rootCmd.AddCommand(historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*models.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *models.Config) error {
	api := planka.NewClient(cfg.Planka.URL, cfg.Planka.APIKey,
		planka.WithTimeout(cfg.Planka.Timeout),
		planka.WithMaxRetries(cfg.Planka.MaxRetries),
	)
	pipeline, err := dispatch.NewPipeline(api,
		dispatch.WithPrefetchConcurrency(cfg.Planka.PrefetchConcurrency),
		dispatch.WithDispatchConcurrency(cfg.Planka.DispatchConcurrency),
	)
	if err != nil {
		return err
	}

	var recorder mailbox.Recorder
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer func() { _ = j.Close() }()
		recorder = j
	}

	if runOnce {
		logging.Log.Info("Starting process...")
		fetchAndProcessEmails(ctx, cfg, pipeline, recorder)
		logging.Log.Info("Process completed.")
		return nil
	}

	logging.Log.Infof("Starting email to card bridge, refresh every %s", cfg.Email.RefreshTime)
	for {
		fetchAndProcessEmails(ctx, cfg, pipeline, recorder)
		if !sleep(ctx, cfg.Email.RefreshTime) {
			logging.Log.Info("Shutting down")
			return nil
		}
	}
}

// fetchAndProcessEmails connects to the IMAP server and runs one synchronization batch
func fetchAndProcessEmails(ctx context.Context, cfg *models.Config, pipeline *dispatch.Pipeline, recorder mailbox.Recorder) {
	client := imapclient.NewStandardClient(cfg.Email.Timeout)

	if err := client.Connect(cfg.Email.Imap); err != nil {
		handleIMAPFailure(ctx, err)
		return
	}
	defer func(client *imapclient.StandardClient) {
		_ = client.Close()
	}(client)

	// Reset failure count on successful connection
	imapFailureCount.Store(0)

	if err := client.Login(cfg.Email.Login, cfg.Email.Password); err != nil {
		logging.Log.Errorf("Login error: %v", err)
		return
	}

	var opts []mailbox.Option
	if recorder != nil {
		opts = append(opts, mailbox.WithRecorder(recorder))
	}
	synchronizer := mailbox.NewSynchronizer(client, pipeline, cfg.Email, opts...)

	if _, err := synchronizer.Sync(ctx); err != nil {
		logging.Log.WithError(err).Error("Error synchronizing mailbox")
	}
}

// handleIMAPFailure increments the failure count and implements an exponential backoff strategy
func handleIMAPFailure(ctx context.Context, err error) {
	failures := imapFailureCount.Add(1)
	logging.Log.Errorf("IMAP connection error: %v", err)

	backoff := failureBackoff(failures)
	if backoff > 0 {
		logging.Log.Warnf("IMAP failed %d times, waiting %s before next attempt", failures, backoff)
		sleep(ctx, backoff)
	}
}

// failureBackoff is zero for the first four failures, then doubles from 5 minutes up to 30
func failureBackoff(failures int32) time.Duration {
	if failures < 5 {
		return 0
	}

	base := 5 * time.Minute
	maxSteps := int32(10)

	n := failures - 5
	if n > maxSteps {
		n = maxSteps
	}

	backoff := base * time.Duration(1<<n)
	if backoff > failureSleepDuration {
		backoff = failureSleepDuration
	}
	return backoff
}

// sleep waits for d and reports false if ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
