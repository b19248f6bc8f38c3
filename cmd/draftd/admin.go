package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/koinonia/draftsafe/pkg/passwd"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := openServer()
		if err != nil {
			return err
		}
		defer conn.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", cfg.DatabaseURI)
		return nil
	},
}

var useraddPassword string

var useraddCmd = &cobra.Command{
	Use:   "useradd <username>",
	Short: "Add a user who may save drafts",
	Args:  cobra.ExactArgs(1),
	RunE:  runUseradd,
}

var cleanupMaxAge time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete drafts that have not been touched in a while",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	useraddCmd.Flags().StringVar(&useraddPassword, "password", "", "password for the new user; prompted for when empty")
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "maximum draft age, defaults to the configured retention")
	rootCmd.AddCommand(migrateCmd, useraddCmd, cleanupCmd)
}

func runUseradd(cmd *cobra.Command, args []string) error {
	username := args[0]
	password := useraddPassword
	if len(password) == 0 {
		var err error
		password, err = passwd.Confirm(fmt.Sprintf("password for %s: ", username))
		if err != nil {
			return err
		}
	}

	conn, srv, err := openServer()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := srv.Auth.Users.CreateUser(username, password); err != nil {
		return fmt.Errorf("adding %s: %w", username, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", username)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	maxAge := cleanupMaxAge
	if maxAge == 0 {
		maxAge = cfg.DraftRetention.Std()
	}
	if maxAge <= 0 {
		return errors.New("max age must be positive")
	}

	conn, srv, err := openServer()
	if err != nil {
		return err
	}
	defer conn.Close()

	n, err := srv.Drafts.Service.Cleanup(cmd.Context(), maxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d drafts older than %s\n", n, maxAge)
	return nil
}
