package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arbitra-ai/oversight/pkg/system"
)

// NewVersionCommand prints the CLI version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ovctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(rt.Writer(), "ovctl %s\n", system.Version)
			return nil
		},
	}
}
