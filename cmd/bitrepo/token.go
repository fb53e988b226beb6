package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitrepository/reference-sub015/internal/middleware"
)

func newTokenCommand(g *globals) *cobra.Command {
	var subject string
	var scopes []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with $JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("ttl") {
				ttl = g.cfg.JWTExpiration
			}
			token, err := middleware.IssueToken(g.cfg.JWTSecret, subject, g.cfg.ClientID, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{middleware.ScopeRead}, "Granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime; defaults to $JWT_EXPIRATION")

	return cmd
}
