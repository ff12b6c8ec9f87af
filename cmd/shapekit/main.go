// Package main provides the entry point for the shapekit CLI.
package main

import (
	"fmt"
	"os"

	"github.com/reoring/shapekit/cmd/shapekit/commands"
)

func main() {
	if err := commands.NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
