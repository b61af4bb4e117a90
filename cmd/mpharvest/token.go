package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/mp-harvester/internal/config"
	"github.com/jonathan/mp-harvester/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token <worker>",
	Short: "Mint a bearer token for the worker API",
	Long:  `Signs a token for the named worker with JWT_SECRET. It expires after JWT_EXPIRATION_HOURS (default 24).`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(jwtCfg).GenerateToken(args[0])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
