package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "pseudonym/internal/jwt_token"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Issue a bearer token for the resolve API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSigningKey == "" {
				return errors.New("JWT_SIGNING_KEY is required")
			}
			clientID, err := cmd.Flags().GetString("client-id")
			if err != nil {
				return fmt.Errorf("failed to get client-id flag: %w", err)
			}
			ttl, err := cmd.Flags().GetDuration("ttl")
			if err != nil {
				return fmt.Errorf("failed to get ttl flag: %w", err)
			}

			service := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, jwttoken.Audience)
			token, err := service.GenerateAccessToken(args[0], clientID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String("client-id", "cli", "Client ID claim")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
