//go:build bdd

package steps

import (
	"fmt"
	"math"

	"github.com/cucumber/godog"

	"github.com/axonops/showledger/internal/core"
)

// RegisterLedgerSteps registers rating, review and vote step definitions.
func RegisterLedgerSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// --- When steps ---
	ctx.Step(`^"([^"]*)" rates "([^"]*)" (-?\d+)$`, func(user, title string, value int) error {
		uid, sid, err := tc.pair(user, title)
		if err != nil {
			return err
		}
		tc.LastErr = tc.Service.SetRating(bg, sid, uid, value)
		return nil
	})

	ctx.Step(`^"([^"]*)" clears their rating of "([^"]*)"$`, func(user, title string) error {
		uid, sid, err := tc.pair(user, title)
		if err != nil {
			return err
		}
		tc.LastErr = tc.Service.ClearRating(bg, sid, uid)
		return nil
	})

	ctx.Step(`^"([^"]*)" reviews "([^"]*)" with "([^"]*)"$`, func(user, title, text string) error {
		uid, sid, err := tc.pair(user, title)
		if err != nil {
			return err
		}
		_, tc.LastErr = tc.Service.SetReview(bg, sid, uid, text)
		return nil
	})

	ctx.Step(`^"([^"]*)" deletes their review of "([^"]*)"$`, func(user, title string) error {
		uid, sid, err := tc.pair(user, title)
		if err != nil {
			return err
		}
		tc.LastErr = tc.Service.ClearReview(bg, sid, uid)
		return nil
	})

	ctx.Step(`^"([^"]*)" (upvotes|downvotes) the review by "([^"]*)" of "([^"]*)"$`, func(voter, direction, author, title string) error {
		vid, sid, err := tc.pair(voter, title)
		if err != nil {
			return err
		}
		aid, err := tc.user(author)
		if err != nil {
			return err
		}
		value := 1
		if direction == "downvotes" {
			value = -1
		}
		tc.LastErr = tc.Service.CastVote(bg, sid, aid, vid, value)
		return nil
	})

	// --- Then steps ---
	ctx.Step(`^"([^"]*)" has (\d+) ratings? with mean ([\d.]+)$`, func(title string, count int, mean float64) error {
		stats, err := tc.stats(title)
		if err != nil {
			return err
		}
		if stats.RatingCount != count {
			return fmt.Errorf("expected %d ratings, got %d", count, stats.RatingCount)
		}
		if stats.MeanRatingHalf == nil || math.Abs(*stats.MeanRatingHalf-mean) > 1e-9 {
			return fmt.Errorf("expected mean %v, got %v", mean, stats.MeanRatingHalf)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" has no ratings$`, func(title string) error {
		stats, err := tc.stats(title)
		if err != nil {
			return err
		}
		if stats.RatingCount != 0 || stats.MeanRatingHalf != nil {
			return fmt.Errorf("expected no ratings, got %d with mean %v", stats.RatingCount, stats.MeanRatingHalf)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" has (\d+) reviews?$`, func(title string, count int) error {
		stats, err := tc.stats(title)
		if err != nil {
			return err
		}
		if stats.ReviewCount != count {
			return fmt.Errorf("expected %d reviews, got %d", count, stats.ReviewCount)
		}
		return nil
	})

	ctx.Step(`^the review by "([^"]*)" of "([^"]*)" has net score (-?\d+)$`, func(author, title string, want int) error {
		aid, sid, err := tc.pair(author, title)
		if err != nil {
			return err
		}
		net, err := tc.Service.NetScore(bg, sid, aid)
		if err != nil {
			return err
		}
		if net != want {
			return fmt.Errorf("expected net score %d, got %d", want, net)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" has rated (\d+) shows?$`, func(user string, n int) error {
		uid, err := tc.user(user)
		if err != nil {
			return err
		}
		ratings, err := tc.Service.UserRatings(bg, uid, 0)
		if err != nil {
			return err
		}
		if len(ratings) != n {
			return fmt.Errorf("expected %d ratings, got %d", n, len(ratings))
		}
		return nil
	})

	ctx.Step(`^the leaderboard starts with "([^"]*)"$`, func(title string) error {
		sid, err := tc.show(title)
		if err != nil {
			return err
		}
		entries, err := tc.Service.Leaderboard(bg, core.LeaderboardQuery{Mode: core.LeaderboardTop})
		if err != nil {
			return err
		}
		if len(entries) == 0 || entries[0].Show.ID != sid {
			return fmt.Errorf("expected %q to lead the board, got %d entries", title, len(entries))
		}
		return nil
	})
}

func (tc *TestContext) pair(user, title string) (int64, int64, error) {
	uid, err := tc.user(user)
	if err != nil {
		return 0, 0, err
	}
	sid, err := tc.show(title)
	if err != nil {
		return 0, 0, err
	}
	return uid, sid, nil
}

func (tc *TestContext) stats(title string) (*core.Stats, error) {
	sid, err := tc.show(title)
	if err != nil {
		return nil, err
	}
	return tc.Service.ShowStats(bg, sid)
}
