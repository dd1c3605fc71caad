package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/refyne-harvest/internal/auth"
)

var tokenFlags struct {
	subject string
	scopes  []string
	ttl     time.Duration
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.subject, "subject", "operator", "Who the token identifies.")
	f.StringSliceVar(&tokenFlags.scopes, "scope", []string{auth.ScopeRead}, "Granted scopes (run:read, run:cancel, run:*).")
	f.DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "Token lifetime.")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token [--subject name] [--scope run:read,run:cancel] [--ttl 24h]",
	Short: "Issue a bearer token for the status API, signed with STATUS_API_SECRET.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StatusAPISecret == "" {
			return errors.New("STATUS_API_SECRET is not set")
		}
		verifier, err := auth.NewVerifier(cfg.StatusAPISecret)
		if err != nil {
			return err
		}
		token, err := verifier.Issue(tokenFlags.subject, tokenFlags.scopes, tokenFlags.ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
