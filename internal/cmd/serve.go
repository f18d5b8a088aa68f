package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imcphost/imcp/internal/appdir"
	"github.com/imcphost/imcp/internal/logging"
	"github.com/imcphost/imcp/internal/server"
	"github.com/imcphost/imcp/internal/services"
	"github.com/imcphost/imcp/internal/tokenstore"
	"github.com/imcphost/imcp/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the iMCP host server",
	Long: `serve starts the iMCP host: it publishes a Port File, listens for
token-authenticated MCP sessions, and (if configured) watches for new
messages to trigger an external script.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	tokensPath, err := appdir.TokensFilePath()
	if err != nil {
		return fmt.Errorf("resolve tokens file path: %w", err)
	}

	tokens, err := tokenstore.Load(tokensPath)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	store := tokenstore.New()
	store.Swap(tokenstore.NewSnapshot(tokens))

	srv := server.New(services.Default(), store)

	fw := tokenstore.NewFileWatcher(tokensPath, store, srv.TokenStoreChanged)
	if err := fw.Start(); err != nil {
		return fmt.Errorf("start token file watcher: %w", err)
	}
	defer fw.Stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// Every configured service is enabled. What each client may use is still
	// governed by its token's per-service permissions, set with the tokens
	// shell's /permit command.
	enabledBindings := make(map[string]bool)
	for _, svc := range services.Default() {
		enabledBindings[svc.ID()] = true
	}
	srv.SetServiceBindings(enabledBindings)

	if cfg.Watcher.Enabled {
		w := watcher.New(watcher.Config{
			DBPath:     cfg.Watcher.DBPath,
			ScriptPath: cfg.Watcher.ScriptPath,
		})
		if err := srv.SetWatcher(w); err != nil {
			logging.Get().Warn("message watcher failed to start", "error", err)
		}
	}

	logging.Get().Info("imcp-server running", "tokens", len(tokens))

	<-ctx.Done()
	srv.Stop()
	return nil
}
