package cmd

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/arbitra-ai/oversight/pkg/ovctl/auth"
	"github.com/arbitra-ai/oversight/pkg/ovctl/client"
)

type runtimeState struct {
	server        string
	tokenOverride string
	tokenStorage  string
	outputFormat  string
	caFile        string
	insecureTLS   bool
	writer        io.Writer
}

type runtimeKey struct{}

// NewRootCommand builds the ovctl command tree. Flags can be overridden by
// OVCTL_SERVER, OVCTL_TOKEN, OVCTL_TOKEN_STORAGE and OVCTL_OUTPUT.
func NewRootCommand(writer io.Writer) *cobra.Command {
	rt := &runtimeState{writer: writer}

	root := &cobra.Command{
		Use:           "ovctl",
		Short:         "Oversight CLI for human review tasks and capability tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.server == "" {
				rt.server = os.Getenv("OVCTL_SERVER")
			}
			if rt.tokenOverride == "" {
				rt.tokenOverride = os.Getenv("OVCTL_TOKEN")
			}
			if rt.tokenStorage == "" {
				rt.tokenStorage = os.Getenv("OVCTL_TOKEN_STORAGE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("OVCTL_OUTPUT")
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.server, "server", "", "Oversight server URL")
	root.PersistentFlags().StringVar(&rt.tokenOverride, "token", "", "Bearer token override")
	root.PersistentFlags().StringVar(&rt.tokenStorage, "token-storage", "", "Token storage backend: keychain or file")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table or json")
	root.PersistentFlags().StringVar(&rt.caFile, "ca-file", "", "CA bundle for the server TLS certificate")
	root.PersistentFlags().BoolVar(&rt.insecureTLS, "insecure-skip-tls-verify", false, "Skip TLS certificate verification")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewLoginCommand(),
		NewTaskCommand(),
		NewTokenCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) OutputFormat() string {
	if strings.EqualFold(rt.outputFormat, "json") {
		return "json"
	}
	return "table"
}

func (rt *runtimeState) resolveToken() string {
	if rt.tokenOverride != "" {
		return rt.tokenOverride
	}
	token, err := auth.NewStore(rt.tokenStorage).Load()
	if err != nil {
		return ""
	}
	return token
}

func (rt *runtimeState) newClient() (*client.Client, error) {
	if rt.server == "" {
		return nil, errors.New("server is required (--server or OVCTL_SERVER)")
	}
	opts := []client.Option{
		client.WithServer(rt.server),
		client.WithToken(rt.resolveToken()),
	}
	if rt.caFile != "" || rt.insecureTLS {
		opts = append(opts, client.WithTLSConfig(rt.caFile, rt.insecureTLS))
	}
	return client.New(opts...)
}
