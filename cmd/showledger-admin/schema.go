package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axonops/showledger/internal/core"
)

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and apply schema migrations",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE:  migrateStatus,
	}

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE:  migrateApply,
	}
	applyCmd.Flags().Int("target", 0, "Target schema version (default: latest)")

	migrateCmd.AddCommand(statusCmd, applyCmd)
	return migrateCmd
}

func migrateStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		report, err := a.runner.Status(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, report)
		}

		fmt.Fprintf(out, "Current version: %d\n", report.Current)
		fmt.Fprintf(out, "Target version:  %d\n", report.Target)
		fmt.Fprintf(out, "Legacy ratings:  %d\n", report.LegacyRatings)
		if len(report.Pending) == 0 {
			fmt.Fprintln(out, "No pending migrations.")
			return nil
		}
		w := newTable(out)
		fmt.Fprintln(w, "FROM\tTO\tDESCRIPTION")
		for _, s := range report.Pending {
			fmt.Fprintf(w, "%d\t%d\t%s\n", s.From, s.To, s.Description)
		}
		return w.Flush()
	})
}

func migrateApply(cmd *cobra.Command, args []string) error {
	target, _ := cmd.Flags().GetInt("target")
	return withApp(cmd, func(ctx context.Context, a *app) error {
		applied, err := a.runner.Run(ctx, target)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, applied)
		}
		for _, s := range applied {
			fmt.Fprintf(out, "Applied migration %d -> %d: %s\n", s.From, s.To, s.Description)
		}
		return nil
	})
}

func newImportCmd() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import data into the store",
	}

	legacyCmd := &cobra.Command{
		Use:   "legacy-ratings <csv>",
		Short: "Import 1-5 star ratings into a store that has not been migrated yet",
		Long: `Reads rows of show_id,user,rating where user is a user ID or username and
rating is an integer star rating from 1 to 5. A header row is skipped. Use "-"
to read from standard input. Run "migrate apply" afterwards to convert the
imported ratings to the half-star scale.`,
		Args: cobra.ExactArgs(1),
		RunE: importLegacyRatings,
	}

	importCmd.AddCommand(legacyCmd)
	return importCmd
}

// legacyRow is one parsed line of a legacy ratings file.
type legacyRow struct {
	Line   int
	ShowID int64
	User   string
	Rating int
}

// parseLegacyRatings reads show_id,user,rating rows. The first row is treated
// as a header when its show_id column is not numeric.
func parseLegacyRatings(r io.Reader) ([]legacyRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var rows []legacyRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		showID, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			if len(rows) == 0 && line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid show_id %q", line, rec[0])
		}
		rating, err := strconv.Atoi(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid rating %q", line, rec[2])
		}
		rows = append(rows, legacyRow{
			Line:   line,
			ShowID: showID,
			User:   strings.TrimSpace(rec[1]),
			Rating: rating,
		})
	}
}

func importLegacyRatings(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	rows, err := parseLegacyRatings(in)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		imported := 0
		for _, row := range rows {
			userID, err := resolveUser(ctx, a.svc, row.User)
			if err != nil {
				return fmt.Errorf("line %d: %w", row.Line, err)
			}
			if err := a.svc.ImportLegacyRating(ctx, row.ShowID, userID, row.Rating); err != nil {
				if errors.Is(err, core.ErrMigrationAlreadyApplied) {
					return fmt.Errorf("line %d: store is already on the half-star scale, use \"rate set\" instead: %w", row.Line, err)
				}
				return fmt.Errorf("line %d: %w", row.Line, err)
			}
			imported++
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, map[string]int{"imported": imported})
		}
		fmt.Fprintf(out, "Imported %d legacy rating(s).\n", imported)
		return nil
	})
}
