package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crm_backend/internal/auth"
	"crm_backend/internal/config"
)

var (
	tokenUser  string
	tokenEmail string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Session token helpers",
}

var sessionTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token for smoke tests and support",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, expires, err := mintToken(cfg.Session, tokenUser, tokenEmail)
		if err != nil {
			return err
		}
		logger.Info("Session token issued")
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires=%s\n", token, expires.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	sessionTokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (token subject)")
	sessionTokenCmd.Flags().StringVar(&tokenEmail, "email", "", "user email")
	_ = sessionTokenCmd.MarkFlagRequired("user")
	sessionCmd.AddCommand(sessionTokenCmd)
}

// mintToken issues a token that lives for the configured session TTL.
func mintToken(sc config.SessionConfig, userID, email string) (string, time.Time, error) {
	return auth.GenerateSessionToken(userID, email, sc.JWTSecret, sc.TTL)
}
