package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lifelog/internal/migration"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collection counts and migration state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return a.printStatus(cmd.Context(), cmd.OutOrStdout())
}

func (a *app) printStatus(ctx context.Context, w io.Writer) error {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	fmt.Fprintf(w, "Database: %s\n\n", a.cfg.DBPath)
	for _, schema := range a.store.Collections() {
		info, err := a.store.Info(ctx, schema.Name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", schema.Name, err)
		}
		lastWrite := "never"
		if !info.LastWrite.IsZero() {
			lastWrite = humanize.Time(info.LastWrite)
		}
		cyan.Fprintf(w, "  %-10s", info.Name)
		fmt.Fprintf(w, " %8s %-8s version %-6d last write %s\n",
			humanize.Comma(int64(info.Count)), pluralize(info.Count, "record"), info.Version, lastWrite)
	}

	// The flag lives in the database; the legacy file is not needed.
	done, err := migration.New(a.store, migration.MapSource{}).Migrated(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	if done {
		green.Fprintln(w, "Legacy data: migrated")
	} else {
		yellow.Fprintln(w, "Legacy data: not migrated")
	}
	return nil
}
