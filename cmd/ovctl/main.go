package main

import (
	"fmt"
	"io"
	"os"

	ovctlcmd "github.com/arbitra-ai/oversight/pkg/ovctl/cmd"
)

func run(args []string, errOut io.Writer) int {
	root := ovctlcmd.NewRootCommand(os.Stdout)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(errOut, "Error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}
