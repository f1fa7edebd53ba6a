package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mealplanhq/mealplan/internal/app"
	"github.com/mealplanhq/mealplan/internal/auth"
	"github.com/mealplanhq/mealplan/internal/config"
	"github.com/mealplanhq/mealplan/internal/store"
	"github.com/mealplanhq/mealplan/internal/wizard"
)

func newUsersCmd() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage customer and admin accounts",
	}
	usersCmd.AddCommand(newUsersListCmd())
	usersCmd.AddCommand(newUsersSetPasswordCmd())
	usersCmd.AddCommand(newUsersCreateAdminCmd())
	return usersCmd
}

func newUsersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE:  runUsersList,
	}
	addCommonFlags(cmd, true)
	return cmd
}

func runUsersList(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		users, err := svc.Store.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(out, users)
		}
		if len(users) == 0 {
			_, _ = fmt.Fprintln(out, "No users.")
			return nil
		}
		rows := make([][]string, 0, len(users))
		for _, u := range users {
			verified := "no"
			if u.EmailVerified {
				verified = "yes"
			}
			rows = append(rows, []string{u.Email, u.Name, u.Role, verified, u.StripeCustomerID, formatTime(u.CreatedAt)})
		}
		return renderTable(out, []string{"EMAIL", "NAME", "ROLE", "VERIFIED", "STRIPE", "CREATED"}, rows)
	})
}

func newUsersSetPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-password <email>",
		Short: "Replace an account's password",
		Args:  cobra.ExactArgs(1),
		RunE:  runUsersSetPassword,
	}
	cmd.Flags().String("password", "", "new password (prompted when omitted)")
	addCommonFlags(cmd, false)
	return cmd
}

func runUsersSetPassword(cmd *cobra.Command, args []string) error {
	password, err := passwordFlagOrPrompt(cmd)
	if err != nil {
		return err
	}

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		if err := svc.Auth.SetPassword(ctx, args[0], password); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no account for %s", args[0])
			}
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s.\n", args[0])
		return nil
	})
}

func newUsersCreateAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin <email>",
		Short: "Create an admin account",
		Args:  cobra.ExactArgs(1),
		RunE:  runUsersCreateAdmin,
	}
	cmd.Flags().String("password", "", "password (prompted when omitted)")
	cmd.Flags().String("name", "", "display name")
	addCommonFlags(cmd, false)
	return cmd
}

func runUsersCreateAdmin(cmd *cobra.Command, args []string) error {
	email := strings.ToLower(strings.TrimSpace(args[0]))
	if err := auth.ValidateEmail(email); err != nil {
		return err
	}
	password, err := passwordFlagOrPrompt(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		existing, err := svc.Store.GetUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%s already has an account (role %s)", email, existing.Role)
		}
		if err := svc.Auth.BootstrapAdmin(ctx, &config.InitialAdmin{Email: email, Password: password, Name: name}); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created.\n", email)
		return nil
	})
}

func passwordFlagOrPrompt(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		p := &wizard.Prompter{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
		password = p.AskSecret("New password")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return "", err
	}
	return password, nil
}
