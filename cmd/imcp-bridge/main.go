// Package main is the entry point for the imcp-bridge stdio proxy.
package main

import (
	"fmt"
	"os"

	"github.com/imcphost/imcp/internal/bridgecmd"
)

func main() {
	if err := bridgecmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
