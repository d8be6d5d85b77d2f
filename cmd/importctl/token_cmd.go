package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/david/investor-crm/internal/auth"
	"github.com/david/investor-crm/internal/config"
)

func newTokenCmd() *cobra.Command {
	var owner string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token --owner <uuid>",
		Short: "Mint a bearer token for local testing of the import API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(owner)
			if err != nil {
				return errors.New("--owner must be a user UUID")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET must be set; the server would not accept a token signed with a random secret")
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), id, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "user UUID to put in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
