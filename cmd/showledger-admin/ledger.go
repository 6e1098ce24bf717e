package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRateCmd() *cobra.Command {
	rateCmd := &cobra.Command{
		Use:   "rate",
		Short: "Set or clear ratings",
	}

	rateSetCmd := &cobra.Command{
		Use:   "set <show-id> <user> <half-stars>",
		Short: "Set a user's rating of a show on the 0-10 half-star scale",
		Args:  cobra.ExactArgs(3),
		RunE:  setRating,
	}

	rateClearCmd := &cobra.Command{
		Use:   "clear <show-id> <user>",
		Short: "Remove a user's rating of a show",
		Args:  cobra.ExactArgs(2),
		RunE:  clearRating,
	}

	rateCmd.AddCommand(rateSetCmd, rateClearCmd)
	return rateCmd
}

func setRating(cmd *cobra.Command, args []string) error {
	showID, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	half, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid rating: %s", args[2])
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		userID, err := resolveUser(ctx, a.svc, args[1])
		if err != nil {
			return err
		}
		if err := a.svc.SetRating(ctx, showID, userID, half); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rating of show %d by user %d set to %d.\n", showID, userID, half)
		return nil
	})
}

func clearRating(cmd *cobra.Command, args []string) error {
	showID, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		userID, err := resolveUser(ctx, a.svc, args[1])
		if err != nil {
			return err
		}
		if err := a.svc.ClearRating(ctx, showID, userID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rating of show %d by user %d cleared.\n", showID, userID)
		return nil
	})
}

func newReviewCmd() *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Set or clear reviews",
	}

	reviewSetCmd := &cobra.Command{
		Use:   "set <show-id> <user> <text>",
		Short: "Create or replace a user's review of a show",
		Args:  cobra.ExactArgs(3),
		RunE:  setReview,
	}

	reviewClearCmd := &cobra.Command{
		Use:   "clear <show-id> <user>",
		Short: "Remove a user's review of a show with its votes",
		Args:  cobra.ExactArgs(2),
		RunE:  clearReview,
	}

	reviewCmd.AddCommand(reviewSetCmd, reviewClearCmd)
	return reviewCmd
}

func setReview(cmd *cobra.Command, args []string) error {
	showID, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		userID, err := resolveUser(ctx, a.svc, args[1])
		if err != nil {
			return err
		}
		rec, err := a.svc.SetReview(ctx, showID, userID, args[2])
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Review of show %d by user %d saved.\n", showID, userID)
		return nil
	})
}

func clearReview(cmd *cobra.Command, args []string) error {
	showID, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		userID, err := resolveUser(ctx, a.svc, args[1])
		if err != nil {
			return err
		}
		if err := a.svc.ClearReview(ctx, showID, userID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Review of show %d by user %d cleared.\n", showID, userID)
		return nil
	})
}

func newVoteCmd() *cobra.Command {
	voteCmd := &cobra.Command{
		Use:   "vote",
		Short: "Vote on reviews",
	}

	voteCastCmd := &cobra.Command{
		Use:   "cast <show-id> <author> <voter> <up|down>",
		Short: "Cast or replace a vote on a review",
		Args:  cobra.ExactArgs(4),
		RunE:  castVote,
	}

	voteRetractCmd := &cobra.Command{
		Use:   "retract <show-id> <author> <voter>",
		Short: "Retract a vote on a review",
		Args:  cobra.ExactArgs(3),
		RunE:  retractVote,
	}

	voteCmd.AddCommand(voteCastCmd, voteRetractCmd)
	return voteCmd
}

func parseVote(s string) (int, error) {
	switch s {
	case "up", "+1", "1":
		return 1, nil
	case "down", "-1":
		return -1, nil
	default:
		return 0, fmt.Errorf("invalid vote %q: use up or down", s)
	}
}

func castVote(cmd *cobra.Command, args []string) error {
	showID, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	vote, err := parseVote(args[3])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		authorID, err := resolveUser(ctx, a.svc, args[1])
		if err != nil {
			return err
		}
		voterID, err := resolveUser(ctx, a.svc, args[2])
		if err != nil {
			return err
		}
		if err := a.svc.CastVote(ctx, showID, authorID, voterID, vote); err != nil {
			return err
		}
		return printNetScore(ctx, cmd, a, showID, authorID)
	})
}

func retractVote(cmd *cobra.Command, args []string) error {
	showID, err := parseID(args[0], "show")
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		authorID, err := resolveUser(ctx, a.svc, args[1])
		if err != nil {
			return err
		}
		voterID, err := resolveUser(ctx, a.svc, args[2])
		if err != nil {
			return err
		}
		if err := a.svc.RetractVote(ctx, showID, authorID, voterID); err != nil {
			return err
		}
		return printNetScore(ctx, cmd, a, showID, authorID)
	})
}

func printNetScore(ctx context.Context, cmd *cobra.Command, a *app, showID, authorID int64) error {
	net, err := a.svc.NetScore(ctx, showID, authorID)
	if err != nil {
		return err
	}
	if output == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]int{"net_score": net})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Net score of review by user %d on show %d: %d\n", authorID, showID, net)
	return nil
}
