package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the account used for sync",
}

var authLoginCmd = &cobra.Command{
	Use:   "login TOKEN",
	Short: "Exchange an account token for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(quietLogger())
		if err != nil {
			return err
		}
		defer a.close()

		state, err := a.syncer.Login(context.Background(), args[0])
		if err != nil {
			return err
		}
		if state.User != nil {
			color.New(color.FgGreen, color.Bold).Printf("✅ Logged in as %s\n", state.User.Email)
		} else {
			color.New(color.FgGreen, color.Bold).Println("✅ Logged in")
		}
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(quietLogger())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.syncer.Logout(context.Background()); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync and account state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(quietLogger())
		if err != nil {
			return err
		}
		defer a.close()

		status, err := a.syncer.Status(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Sync:       %s\n", enabled(status.Enabled))
		if !status.Authenticated {
			color.New(color.FgYellow).Println("Account:    not logged in")
			return nil
		}
		if status.User != nil {
			fmt.Printf("Account:    %s (%s)\n", status.User.Email, status.User.ID)
		}
		if status.ExpiresAt != nil {
			fmt.Printf("Expires:    %s\n", status.ExpiresAt.Local().Format("2006-01-02 15:04"))
		}
		if status.LastCheck != nil {
			fmt.Printf("Checked:    %s\n", status.LastCheck.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

func enabled(b bool) string {
	if b {
		return color.GreenString("enabled")
	}
	return color.YellowString("disabled")
}
