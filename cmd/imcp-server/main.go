// Package main is the entry point for the imcp-server host process.
package main

import (
	"fmt"
	"os"

	"github.com/imcphost/imcp/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
