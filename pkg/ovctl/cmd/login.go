package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/arbitra-ai/oversight/pkg/ovctl/auth"
)

// NewLoginCommand manages the stored reviewer bearer token.
func NewLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store or clear the reviewer bearer token",
	}

	var token string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a bearer token (keychain, with file fallback)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if token == "" {
				return errors.New("--token is required")
			}
			if err := auth.NewStore(rt.tokenStorage).Save(token, rt.server); err != nil {
				return err
			}
			fmt.Fprintln(rt.Writer(), "Token stored")
			return nil
		},
	}
	set.Flags().StringVar(&token, "token", "", "Bearer token to store")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := auth.NewStore(rt.tokenStorage).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(rt.Writer(), "Token cleared")
			return nil
		},
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}
