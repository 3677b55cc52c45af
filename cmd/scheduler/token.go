package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentfi/agentfi-bot-scheduler/internal/auth"
	"github.com/agentfi/agentfi-bot-scheduler/pkg/config"
)

var tokenOperator string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the ops API",
	Long: `Sign an operator token with auth.jwt_secret. The token is valid for
auth.token_ttl and is accepted by every /api endpoint.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenOperator, "operator", "o", "", "operator name recorded in the token (required)")
	_ = tokenCmd.MarkFlagRequired("operator")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	token, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(tokenOperator)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
