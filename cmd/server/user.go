package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/courier/internal/app"
	"github.com/vovakirdan/courier/internal/config"
	"github.com/vovakirdan/courier/internal/session"
	"github.com/vovakirdan/courier/internal/store"
)

func newUserCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserAddCmd(root))
	cmd.AddCommand(newUserListCmd(root))
	return cmd
}

func newUserAddCmd(root *rootOptions) *cobra.Command {
	var (
		password    string
		displayName string
		admin       bool
	)

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return errors.New("--password is required")
			}
			cfg, logger, err := root.load(config.Config{})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := app.OpenStore(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			// Creating a user never touches sessions.
			authService := app.NewAuthService(&cfg, st, session.NewMemoryStore(), logger)

			role := store.RoleUser
			if admin {
				role = store.RoleAdmin
			}
			user, err := authService.CreateUser(ctx, args[0], password, displayName, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", user.Username, user.Role, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (min 6 characters)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "name shown to other users")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	return cmd
}

func newUserListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(config.Config{})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := app.OpenStore(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			users, err := st.ListUsers(ctx)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Username", "Display name", "Role", "Created"})
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)
			for _, u := range users {
				table.Append([]string{u.ID, u.Username, u.DisplayName, string(u.Role), u.CreatedAt.Format(time.RFC3339)})
			}
			table.Render()
			return nil
		},
	}
}
