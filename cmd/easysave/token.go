package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasew/easysave/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issues an API token signed with auth.jwt_secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		containers, _ := cmd.Flags().GetStringSlice("container")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}

		auth := server.NewAuthenticator(cfg.Auth.JWTSecret, ttl)
		if auth == nil {
			return errors.New("auth.jwt_secret is not set")
		}
		token, err := auth.Issue(args[0], containers)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringSlice("container", nil, "restrict the token to these containers (repeatable)")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default is auth.token_ttl)")
}
