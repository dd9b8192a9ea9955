// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dsumanth/coach-me-sub008/remote"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	tokenUser   string
	tokenDevice string
	tokenTTL    time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id for the sub claim (defaults to client.user_id)")
	tokenCmd.Flags().StringVar(&tokenDevice, "device", "", "device id for the did claim (random when empty)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to client.token_ttl)")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token signed with server.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		user := tokenUser
		if user == "" {
			user = cfg.Client.UserID
		}
		if user == "" {
			return errors.New("--user or client.user_id is required")
		}
		device := tokenDevice
		if device == "" {
			device = uuid.NewString()
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Client.TokenTTL
		}

		token, err := remote.NewJWTAuth(cfg.Server.JWTSecret).GenerateToken(user, device, ttl)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
