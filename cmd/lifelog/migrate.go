package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lifelog/internal/migration"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy legacy data into the database",
	Long: `Copy the legacy flat-key data file into the database. The copy runs once:
collections that already hold data are skipped and a completed migration is
remembered in the database.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.migrate(cmd.Context())
	printReport(cmd.OutOrStdout(), cfg.LegacyDataPath, report)
	return err
}

func printReport(w io.Writer, source string, report migration.Report) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	if report.AlreadyMigrated {
		cyan.Fprintln(w, "Legacy data already migrated, nothing to do")
		return
	}

	fmt.Fprintf(w, "Migrating from %s\n", source)
	collections := make([]string, 0, len(report.Copied))
	for name := range report.Copied {
		collections = append(collections, name)
	}
	sort.Strings(collections)
	for _, name := range collections {
		n := report.Copied[name]
		green.Fprintf(w, "  copied   %-10s %s %s\n", name, humanize.Comma(int64(n)), pluralize(n, "record"))
	}
	for _, name := range report.Skipped {
		yellow.Fprintf(w, "  skipped  %-10s already has data\n", name)
	}
	for _, name := range report.Missing {
		fmt.Fprintf(w, "  missing  %-10s not present in legacy data\n", name)
	}
}

func pluralize(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
