// Package bridgecmd provides the CLI for the imcp-bridge process: a thin
// stdio<->TCP proxy that assistant clients launch as a subprocess when they
// cannot speak TCP MCP transport directly.
package bridgecmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imcphost/imcp/internal/appdir"
	"github.com/imcphost/imcp/internal/bridge"
	"github.com/imcphost/imcp/internal/secrets"
)

var (
	token        string
	portFile     string
	saveToken    bool
	forgetCached bool
)

var rootCmd = &cobra.Command{
	Use:   "imcp-bridge",
	Short: "Proxy stdio MCP traffic to the iMCP host over TCP",
	Long: `imcp-bridge connects stdin/stdout to the iMCP host's TCP listener,
authenticating with a bridge token. If --token is omitted, a token cached by
a prior --save-token run is used instead.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&token, "token", "", "Bridge authentication token (falls back to the cached keychain token)")
	rootCmd.Flags().StringVar(&portFile, "port-file", "", "Port file path (defaults to the iMCP directory's server.port)")
	rootCmd.Flags().BoolVar(&saveToken, "save-token", false, "Cache --token in the platform secret store for future runs")
	rootCmd.Flags().BoolVar(&forgetCached, "forget-token", false, "Remove any cached bridge token and exit")
}

// Execute runs the imcp-bridge root command.
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, args []string) error {
	if forgetCached {
		if err := secrets.DeleteBridgeToken(); err != nil && err != secrets.ErrNotFound && err != secrets.ErrNotSupported {
			return fmt.Errorf("forget cached token: %w", err)
		}
		return nil
	}

	resolvedToken := token
	if resolvedToken == "" {
		cached, err := secrets.GetBridgeToken()
		if err != nil {
			return fmt.Errorf("no --token given and no cached token found: %w", err)
		}
		resolvedToken = cached
	} else if saveToken {
		if err := secrets.SetBridgeToken(resolvedToken); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to cache token: %v\n", err)
		}
	}

	path := portFile
	if path == "" {
		p, err := appdir.PortFilePath()
		if err != nil {
			return fmt.Errorf("resolve port file path: %w", err)
		}
		path = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	b := &bridge.Bridge{
		Token:    resolvedToken,
		PortFile: path,
	}
	return b.Run(ctx)
}
