package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"planka-mail-bridge/internal/models"

	"github.com/etkecc/go-env"
	"gopkg.in/yaml.v2"
)

const envPrefix = "mailboard"

var defaultConfig = models.Config{
	LogLevel:  "info",
	LogFormat: "json",
	Email: models.EmailConfig{
		RefreshTime: time.Minute,
		Timeout:     30 * time.Second,
		Root:        "API",
		Inbox:       "IN",
		Accepted:    "OUT",
		Rejected:    "REJECTED",
	},
	Planka: models.PlankaConfig{
		URL:                 "http://localhost:3000",
		Timeout:             15 * time.Second,
		MaxRetries:          3,
		PrefetchConcurrency: 4,
		DispatchConcurrency: 1,
	},
}

// Load reads the configuration from the specified YAML file, applies
// MAILBOARD_* environment overrides and fills in defaults. A missing file is
// not an error: the configuration may come from the environment alone.
func Load(filepath string) (*models.Config, error) {
	config := defaultConfig

	configFile, err := os.ReadFile(filepath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(configFile, &config); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnv(&config)
	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyEnv(cfg *models.Config) {
	env.SetPrefix(envPrefix)

	cfg.LogLevel = env.String("log.level", cfg.LogLevel)
	cfg.LogFormat = env.String("log.format", cfg.LogFormat)

	cfg.Email.Imap = env.String("imap.server", cfg.Email.Imap)
	cfg.Email.Login = env.String("imap.login", cfg.Email.Login)
	cfg.Email.Password = env.String("imap.password", cfg.Email.Password)
	cfg.Email.Root = env.String("imap.root", cfg.Email.Root)
	cfg.Email.RefreshTime = envDuration("imap.refresh", cfg.Email.RefreshTime)

	cfg.Planka.URL = env.String("planka.url", cfg.Planka.URL)
	cfg.Planka.APIKey = env.String("planka.apikey", cfg.Planka.APIKey)
	cfg.Planka.MaxRetries = env.Int("planka.maxretries", cfg.Planka.MaxRetries)
	cfg.Planka.PrefetchConcurrency = env.Int("planka.prefetch", cfg.Planka.PrefetchConcurrency)
	cfg.Planka.DispatchConcurrency = env.Int("planka.dispatch", cfg.Planka.DispatchConcurrency)

	cfg.Journal.Path = env.String("journal.path", cfg.Journal.Path)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := env.String(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// applyDefaults restores defaults that the YAML file explicitly zeroed
func applyDefaults(cfg *models.Config) {
	if cfg.Email.RefreshTime <= 0 {
		cfg.Email.RefreshTime = defaultConfig.Email.RefreshTime
	}
	if cfg.Email.Timeout <= 0 {
		cfg.Email.Timeout = defaultConfig.Email.Timeout
	}
	if cfg.Email.Inbox == "" {
		cfg.Email.Inbox = defaultConfig.Email.Inbox
	}
	if cfg.Email.Accepted == "" {
		cfg.Email.Accepted = defaultConfig.Email.Accepted
	}
	if cfg.Email.Rejected == "" {
		cfg.Email.Rejected = defaultConfig.Email.Rejected
	}
	if cfg.Planka.Timeout <= 0 {
		cfg.Planka.Timeout = defaultConfig.Planka.Timeout
	}
	if cfg.Planka.MaxRetries < 0 {
		cfg.Planka.MaxRetries = 0
	}
	if cfg.Planka.PrefetchConcurrency < 1 {
		cfg.Planka.PrefetchConcurrency = 1
	}
	if cfg.Planka.DispatchConcurrency < 1 {
		cfg.Planka.DispatchConcurrency = 1
	}
}

// Validate checks that the settings required to run a batch are present
func Validate(cfg *models.Config) error {
	var errs []error
	if cfg.Email.Imap == "" {
		errs = append(errs, errors.New("email.imap is required"))
	}
	if cfg.Email.Login == "" {
		errs = append(errs, errors.New("email.login is required"))
	}
	if cfg.Planka.URL == "" {
		errs = append(errs, errors.New("planka.url is required"))
	}
	if cfg.Planka.APIKey == "" {
		errs = append(errs, errors.New("planka.apiKey is required"))
	}
	distinct := map[string]bool{}
	for _, name := range []string{cfg.Email.Inbox, cfg.Email.Accepted, cfg.Email.Rejected} {
		if distinct[name] {
			errs = append(errs, fmt.Errorf("mailbox %q is used more than once", name))
		}
		distinct[name] = true
	}
	return errors.Join(errs...)
}
