// Package main provides the entry point for the orchestrator CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/agentcore/cmd/orchestrator/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
