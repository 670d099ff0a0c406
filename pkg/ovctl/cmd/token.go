package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arbitra-ai/oversight/pkg/capability"
)

// NewTokenCommand groups the capability token subcommands.
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint, verify and revoke capability tokens",
	}
	cmd.AddCommand(
		newTokenMintCommand(),
		newTokenVerifyCommand(),
		newTokenCanPerformCommand(),
		newTokenRevokeCommand(),
	)
	return cmd
}

func newTokenMintCommand() *cobra.Command {
	var (
		toolID  string
		caller  string
		actions []string
		ttl     int64
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a capability token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cl, err := rt.newClient()
			if err != nil {
				return err
			}
			req := capability.MintRequest{
				ToolID:         toolID,
				Caller:         caller,
				AllowedActions: actions,
			}
			if cmd.Flags().Changed("ttl") {
				req.TTLSeconds = &ttl
			}
			tokenString, err := cl.MintToken(cmd.Context(), req)
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), capability.MintResponse{Token: tokenString})
			}
			fmt.Fprintln(rt.Writer(), tokenString)
			return nil
		},
	}
	cmd.Flags().StringVar(&toolID, "tool", "", "Tool the token grants access to")
	cmd.Flags().StringVar(&caller, "caller", "", "Caller identity the token is bound to")
	cmd.Flags().StringSliceVar(&actions, "action", nil, "Allowed action (repeatable; \"*\" for all)")
	cmd.Flags().Int64Var(&ttl, "ttl", 0, "Token lifetime in seconds (server default 3600)")
	_ = cmd.MarkFlagRequired("tool")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func newTokenVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cl, err := rt.newClient()
			if err != nil {
				return err
			}
			resp, err := cl.VerifyToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), resp)
			}
			if !resp.Valid || resp.Payload == nil {
				fmt.Fprintln(rt.Writer(), "Token is INVALID")
				return nil
			}
			p := resp.Payload
			fmt.Fprintf(rt.Writer(), "Token is valid\n")
			fmt.Fprintf(rt.Writer(), "Tool:     %s\n", p.ToolID)
			fmt.Fprintf(rt.Writer(), "Caller:   %s\n", p.Caller)
			fmt.Fprintf(rt.Writer(), "Actions:  %s\n", strings.Join(p.AllowedActions, ", "))
			fmt.Fprintf(rt.Writer(), "Issued:   %s\n", time.Unix(p.Iat, 0).Format(time.RFC3339))
			fmt.Fprintf(rt.Writer(), "Expires:  %s\n", time.Unix(p.Exp, 0).Format(time.RFC3339))
			return nil
		},
	}
	return cmd
}

func newTokenCanPerformCommand() *cobra.Command {
	var (
		toolID string
		action string
	)
	cmd := &cobra.Command{
		Use:   "can-perform <token>",
		Short: "Check whether a token permits an action on a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cl, err := rt.newClient()
			if err != nil {
				return err
			}
			allowed, err := cl.CanPerform(cmd.Context(), args[0], toolID, action)
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), capability.CanPerformResponse{Allowed: allowed})
			}
			if allowed {
				fmt.Fprintf(rt.Writer(), "ALLOWED: %s on %s\n", action, toolID)
			} else {
				fmt.Fprintf(rt.Writer(), "DENIED: %s on %s\n", action, toolID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&toolID, "tool", "", "Tool id")
	cmd.Flags().StringVar(&action, "action", "", "Action to check")
	_ = cmd.MarkFlagRequired("tool")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newTokenRevokeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a token immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cl, err := rt.newClient()
			if err != nil {
				return err
			}
			if err := cl.RevokeToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(rt.Writer(), "Token revoked")
			return nil
		},
	}
	return cmd
}
