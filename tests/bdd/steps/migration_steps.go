//go:build bdd

package steps

import (
	"fmt"

	"github.com/cucumber/godog"

	"github.com/axonops/showledger/internal/storage"
)

// RegisterMigrationSteps registers schema migration step definitions.
func RegisterMigrationSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// --- Given steps ---
	ctx.Step(`^the store is on the star scale$`, func() error {
		return tc.Open(storage.SchemaVersionStarScale)
	})

	ctx.Step(`^"([^"]*)" had rated "([^"]*)" (\d+) stars?$`, func(user, title string, stars int) error {
		uid, sid, err := tc.pair(user, title)
		if err != nil {
			return err
		}
		tc.LastErr = tc.Service.ImportLegacyRating(bg, sid, uid, stars)
		return nil
	})

	// --- When steps ---
	ctx.Step(`^the scale migration runs$`, func() error {
		_, tc.LastErr = tc.Runner.Run(bg, 0)
		return nil
	})

	// --- Then steps ---
	ctx.Step(`^the schema version is (\d+)$`, func(want int) error {
		got, err := tc.Service.SchemaVersion(bg)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("expected schema version %d, got %d", want, got)
		}
		return nil
	})

	ctx.Step(`^the rating of "([^"]*)" by "([^"]*)" is (\d+)$`, func(title, user string, want int) error {
		uid, sid, err := tc.pair(user, title)
		if err != nil {
			return err
		}
		got, ok, err := tc.Service.GetRating(bg, sid, uid)
		if err != nil {
			return err
		}
		if !ok || got != want {
			return fmt.Errorf("expected rating %d, got %d (present: %v)", want, got, ok)
		}
		return nil
	})
}
