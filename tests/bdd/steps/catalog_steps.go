//go:build bdd

package steps

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"github.com/axonops/showledger/internal/core"
)

// RegisterCatalogSteps registers user and show catalog step definitions.
func RegisterCatalogSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// --- Given steps ---
	ctx.Step(`^the users "([^"]*)" exist$`, func(names string) error {
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			u, err := tc.Service.CreateUser(bg, name, "password-"+name, false)
			if err != nil {
				return fmt.Errorf("create user %s: %w", name, err)
			}
			tc.Users[name] = u.ID
		}
		return nil
	})

	ctx.Step(`^the show "([^"]*)" by "([^"]*)" from (\d+) exists$`, func(title, corps string, year int) error {
		res, err := tc.Service.UpsertShow(bg, core.ShowInput{Title: title, Corps: corps, Year: year})
		if err != nil {
			return err
		}
		tc.Shows[title] = res.Show.ID
		return nil
	})

	// --- When steps ---
	ctx.Step(`^"([^"]*)" adds the show "([^"]*)" by "([^"]*)" from (\d+)$`, func(user, title, corps string, year int) error {
		if _, err := tc.user(user); err != nil {
			return err
		}
		tc.LastUpsert, tc.LastErr = tc.Service.UpsertShow(bg, core.ShowInput{Title: title, Corps: corps, Year: year})
		if tc.LastErr == nil {
			tc.Shows[title] = tc.LastUpsert.Show.ID
		}
		return nil
	})

	ctx.Step(`^the user "([^"]*)" is deleted$`, func(name string) error {
		id, err := tc.user(name)
		if err != nil {
			return err
		}
		tc.LastErr = tc.Service.DeleteUser(bg, id)
		return tc.LastErr
	})

	ctx.Step(`^the show "([^"]*)" is deleted$`, func(title string) error {
		id, err := tc.show(title)
		if err != nil {
			return err
		}
		tc.LastErr = tc.Service.DeleteShow(bg, id)
		return tc.LastErr
	})

	// --- Then steps ---
	ctx.Step(`^the last upsert returned the existing show$`, func() error {
		if tc.LastErr != nil {
			return tc.LastErr
		}
		if tc.LastUpsert.Created {
			return fmt.Errorf("expected an existing show, a new one was created")
		}
		return nil
	})

	ctx.Step(`^the catalog contains (\d+) shows?$`, func(n int) error {
		shows, err := tc.Service.ListShows(bg, core.ShowFilter{})
		if err != nil {
			return err
		}
		if len(shows) != n {
			return fmt.Errorf("expected %d shows, got %d", n, len(shows))
		}
		return nil
	})

	ctx.Step(`^the last operation succeeds$`, tc.assertSucceeded)
	ctx.Step(`^the last operation fails with "([^"]*)"$`, tc.assertFailedWith)
}
