package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"planka-mail-bridge/internal/journal"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the latest dispatch results from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Journal.Path == "" {
			return errors.New("journal is disabled, set journal.path in the configuration")
		}

		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer func() { _ = j.Close() }()

		entries, err := j.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), entries)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show, 0 for all")
}

func printHistory(out io.Writer, entries []journal.Entry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tBATCH\tUID\tDISPOSITION\tBOARD\tLIST\tCARD\tTITLE\tREASON")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time().Format(time.RFC3339),
			shortID(e.BatchID),
			e.UID,
			e.Disposition,
			optional(e.BoardID.Int64, e.BoardID.Valid),
			optional(e.ListID.Int64, e.ListID.Valid),
			optional(e.CardID.Int64, e.CardID.Valid),
			e.Title,
			e.Reason,
		)
	}
	return w.Flush()
}

func optional(v int64, valid bool) string {
	if !valid {
		return "-"
	}
	return fmt.Sprint(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
