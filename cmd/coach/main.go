// Package main provides the interview coach CLI.
//
// Usage:
//
//	coach [--config FILE] <command> [flags]
//
// Commands:
//
//	serve     - Run the HTTP API and browser interview bridge
//	interview - Run a voice interview on local audio devices
//	persona   - Generate a candidate persona
//	feedback  - Generate coaching feedback for a saved transcript
package main

import (
	"fmt"
	"os"

	"github.com/yegors/interview-coach/cmd/coach/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
