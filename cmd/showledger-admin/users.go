package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axonops/showledger/internal/storage"
)

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	userListCmd := &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE:  listUsers,
	}

	userCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Args:  cobra.NoArgs,
		RunE:  createUser,
	}
	userCreateCmd.Flags().String("name", "", "Username (required)")
	userCreateCmd.Flags().String("pass", "", "Password (required)")
	userCreateCmd.Flags().Bool("admin", false, "Grant administrator rights")
	_ = userCreateCmd.MarkFlagRequired("name")
	_ = userCreateCmd.MarkFlagRequired("pass")

	userPromoteCmd := &cobra.Command{
		Use:   "promote <user>",
		Short: "Grant administrator rights",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setAdmin(cmd, args[0], true) },
	}

	userDemoteCmd := &cobra.Command{
		Use:   "demote <user>",
		Short: "Revoke administrator rights",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setAdmin(cmd, args[0], false) },
	}

	userPasswdCmd := &cobra.Command{
		Use:   "passwd <user>",
		Short: "Replace a user's password",
		Args:  cobra.ExactArgs(1),
		RunE:  changePassword,
	}
	userPasswdCmd.Flags().String("pass", "", "New password (required)")
	_ = userPasswdCmd.MarkFlagRequired("pass")

	userDeleteCmd := &cobra.Command{
		Use:   "delete <user>",
		Short: "Delete a user with their ratings, reviews and votes",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteUser,
	}

	userCmd.AddCommand(userListCmd, userCreateCmd, userPromoteCmd, userDemoteCmd, userPasswdCmd, userDeleteCmd)
	return userCmd
}

func printUsers(cmd *cobra.Command, users []*storage.UserRecord) error {
	out := cmd.OutOrStdout()
	if output == "json" {
		return printJSON(out, users)
	}
	w := newTable(out)
	fmt.Fprintln(w, "ID\tUSERNAME\tADMIN\tCREATED")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%v\t%s\n", u.ID, u.Username, u.IsAdmin, formatTime(u.CreatedAt))
	}
	return w.Flush()
}

func listUsers(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		users, err := a.svc.ListUsers(ctx)
		if err != nil {
			return err
		}
		return printUsers(cmd, users)
	})
}

func createUser(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	pass, _ := cmd.Flags().GetString("pass")
	admin, _ := cmd.Flags().GetBool("admin")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		user, err := a.svc.CreateUser(ctx, name, pass, admin)
		if err != nil {
			return err
		}
		return printUsers(cmd, []*storage.UserRecord{user})
	})
}

func setAdmin(cmd *cobra.Command, ref string, admin bool) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		id, err := resolveUser(ctx, a.svc, ref)
		if err != nil {
			return err
		}
		if err := a.svc.SetAdmin(ctx, id, admin); err != nil {
			return err
		}
		user, err := a.svc.GetUser(ctx, id)
		if err != nil {
			return err
		}
		return printUsers(cmd, []*storage.UserRecord{user})
	})
}

func changePassword(cmd *cobra.Command, args []string) error {
	pass, _ := cmd.Flags().GetString("pass")
	return withApp(cmd, func(ctx context.Context, a *app) error {
		id, err := resolveUser(ctx, a.svc, args[0])
		if err != nil {
			return err
		}
		if err := a.svc.RotateCredential(ctx, id, pass); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password for user %d updated.\n", id)
		return nil
	})
}

func deleteUser(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		id, err := resolveUser(ctx, a.svc, args[0])
		if err != nil {
			return err
		}
		if err := a.svc.DeleteUser(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %d deleted.\n", id)
		return nil
	})
}
