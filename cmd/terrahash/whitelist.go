package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/internal/identities"
	"github.com/terrahash/landregistry/pkg/models"
)

func newWhitelistCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage government wallets",
	}

	var fullName string
	add := &cobra.Command{
		Use:   "add <wallet>",
		Short: "Register a wallet as a whitelisted government user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewPostgresDB(e.cfg.Database)
			if err != nil {
				return err
			}
			svc := identities.NewService(db, identities.NewSessions(e.cfg.Session, nil), e.cfg.Root, e.logger)
			actor := &models.User{ID: models.RootUserID, Type: models.UserRoot, WalletAddress: "cli"}
			user, err := svc.AddGovUser(cmd.Context(), actor, &models.AddGovUserRequest{
				WalletAddress: args[0],
				FullName:      fullName,
			})
			if err != nil {
				return err
			}
			e.logger.Info("Government user added", zap.String("user_id", user.ID), zap.String("wallet", user.WalletAddress))
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	add.Flags().StringVar(&fullName, "name", "", "full name of the official")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(add)
	return cmd
}
