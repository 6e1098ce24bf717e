package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/axonops/showledger/internal/core"
	"github.com/axonops/showledger/internal/storage"
)

func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Manage the show catalog",
	}

	showAddCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a show, or return the existing show with the same identity",
		Args:  cobra.NoArgs,
		RunE:  addShow,
	}
	showAddCmd.Flags().String("title", "", "Show title (required)")
	showAddCmd.Flags().String("corps", "", "Corps name (required)")
	showAddCmd.Flags().Int("year", 0, "Season year (required)")
	showAddCmd.Flags().String("poster", "", "Poster URL")
	showAddCmd.Flags().Bool("as-admin", false, "Apply the poster with administrator rights")
	_ = showAddCmd.MarkFlagRequired("title")
	_ = showAddCmd.MarkFlagRequired("corps")
	_ = showAddCmd.MarkFlagRequired("year")

	showGetCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a show by ID",
		Args:  cobra.ExactArgs(1),
		RunE:  getShow,
	}

	showListCmd := &cobra.Command{
		Use:   "list",
		Short: "List shows",
		Args:  cobra.NoArgs,
		RunE:  listShows,
	}
	showListCmd.Flags().Int("year", 0, "Filter by year")
	showListCmd.Flags().String("corps", "", "Filter by corps")
	showListCmd.Flags().String("order", "", "Order: created_asc, created_desc, year_desc, year_asc, corps, title")
	showListCmd.Flags().Int("offset", 0, "Rows to skip")
	showListCmd.Flags().Int("limit", 50, "Maximum rows (0 for all)")

	showDeleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a show with its ratings, reviews and votes",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteShow,
	}

	showStatsCmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "Show rating and review statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  showStats,
	}

	showReviewsCmd := &cobra.Command{
		Use:   "reviews <id>",
		Short: "List the reviews of a show",
		Args:  cobra.ExactArgs(1),
		RunE:  showReviews,
	}
	showReviewsCmd.Flags().String("order", string(core.ReviewOrderRecency), "Order: recency, score")
	showReviewsCmd.Flags().String("viewer", "", "User whose votes are shown")
	showReviewsCmd.Flags().Int("offset", 0, "Rows to skip")
	showReviewsCmd.Flags().Int("limit", 20, "Maximum rows (0 for all)")

	showTopCmd := &cobra.Command{
		Use:   "top",
		Short: "Rank rated shows by mean rating",
		Args:  cobra.NoArgs,
		RunE:  topShows,
	}
	showTopCmd.Flags().String("mode", string(core.LeaderboardTop), "Mode: top, bottom")
	showTopCmd.Flags().Int("limit", 10, "Maximum rows (0 for all)")

	showCmd.AddCommand(showAddCmd, showGetCmd, showListCmd, showDeleteCmd, showStatsCmd, showReviewsCmd, showTopCmd)
	return showCmd
}

func printShows(cmd *cobra.Command, shows []*storage.ShowRecord) error {
	out := cmd.OutOrStdout()
	if output == "json" {
		return printJSON(out, shows)
	}
	w := newTable(out)
	fmt.Fprintln(w, "ID\tTITLE\tCORPS\tYEAR\tPOSTER\tCREATED")
	for _, s := range shows {
		poster := s.PosterURL
		if poster == "" {
			poster = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Title, s.Corps, s.Year, poster, formatTime(s.CreatedAt))
	}
	return w.Flush()
}

func addShow(cmd *cobra.Command, args []string) error {
	var in core.ShowInput
	in.Title, _ = cmd.Flags().GetString("title")
	in.Corps, _ = cmd.Flags().GetString("corps")
	in.Year, _ = cmd.Flags().GetInt("year")
	in.PosterURL, _ = cmd.Flags().GetString("poster")
	in.AsAdmin, _ = cmd.Flags().GetBool("as-admin")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.svc.UpsertShow(ctx, in)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"show":           res.Show,
				"created":        res.Created,
				"poster_updated": res.PosterUpdated,
			})
		}
		if !res.Created {
			fmt.Fprintln(cmd.ErrOrStderr(), "Show already exists.")
		}
		return printShows(cmd, []*storage.ShowRecord{res.Show})
	})
}

func getShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		show, err := a.svc.GetShow(ctx, id)
		if err != nil {
			return err
		}
		return printShows(cmd, []*storage.ShowRecord{show})
	})
}

func listShows(cmd *cobra.Command, args []string) error {
	var f core.ShowFilter
	if cmd.Flags().Changed("year") {
		year, _ := cmd.Flags().GetInt("year")
		f.Year = &year
	}
	f.Corps, _ = cmd.Flags().GetString("corps")
	order, _ := cmd.Flags().GetString("order")
	f.Order = storage.ShowOrder(order)
	f.Offset, _ = cmd.Flags().GetInt("offset")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		shows, err := a.svc.ListShows(ctx, f)
		if err != nil {
			return err
		}
		return printShows(cmd, shows)
	})
}

func deleteShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.svc.DeleteShow(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Show %d deleted.\n", id)
		return nil
	})
}

func showStats(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		stats, err := a.svc.ShowStats(ctx, id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, stats)
		}
		w := newTable(out)
		fmt.Fprintln(w, "SHOW\tRATINGS\tMEAN (0-10)\tREVIEWS")
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\n", stats.ShowID, stats.RatingCount, formatMean(stats.MeanRatingHalf), stats.ReviewCount)
		return w.Flush()
	})
}

func printReviews(cmd *cobra.Command, views []core.ReviewView) error {
	out := cmd.OutOrStdout()
	if output == "json" {
		return printJSON(out, views)
	}
	w := newTable(out)
	fmt.Fprintln(w, "AUTHOR\tRATING\tNET\tUP\tDOWN\tUPDATED\tTEXT")
	for _, v := range views {
		rating := "-"
		if v.AuthorRating != nil {
			rating = strconv.Itoa(*v.AuthorRating)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
			v.Review.UserID, rating, v.NetScore, v.Upvotes, v.Downvotes,
			formatTime(v.Review.UpdatedAt), excerpt(v.Review.Text, 60))
	}
	return w.Flush()
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func showReviews(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	var q core.ReviewQuery
	order, _ := cmd.Flags().GetString("order")
	q.Order = core.ReviewOrder(order)
	q.Offset, _ = cmd.Flags().GetInt("offset")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	viewer, _ := cmd.Flags().GetString("viewer")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if viewer != "" {
			q.Viewer, err = resolveUser(ctx, a.svc, viewer)
			if err != nil {
				return err
			}
		}
		views, err := a.svc.ListReviews(ctx, id, q)
		if err != nil {
			return err
		}
		return printReviews(cmd, views)
	})
}

func topShows(cmd *cobra.Command, args []string) error {
	var q core.LeaderboardQuery
	mode, _ := cmd.Flags().GetString("mode")
	q.Mode = core.LeaderboardMode(mode)
	q.Limit, _ = cmd.Flags().GetInt("limit")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		entries, err := a.svc.Leaderboard(ctx, q)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, entries)
		}
		w := newTable(out)
		fmt.Fprintln(w, "RANK\tID\tTITLE\tCORPS\tYEAR\tMEAN (0-10)\tRATINGS\tTOP REVIEW")
		for i, e := range entries {
			top := "-"
			if e.TopReview != nil {
				top = excerpt(e.TopReview.Review.Text, 40)
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%s\t%d\t%s\n",
				i+1, e.Show.ID, e.Show.Title, e.Show.Corps, e.Show.Year,
				formatMean(e.Stats.MeanRatingHalf), e.Stats.RatingCount, top)
		}
		return w.Flush()
	})
}
