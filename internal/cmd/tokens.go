package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imcphost/imcp/internal/appdir"
	"github.com/imcphost/imcp/internal/registry"
	"github.com/imcphost/imcp/internal/services"
	"github.com/imcphost/imcp/internal/tokenscli"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Interactively administer tokens and service permissions",
	Long: `tokens drops into an interactive shell for creating, listing, and
revoking tokens, and for setting per-service permissions, against the same
on-disk snapshot file a running server watches and hot-reloads.`,
	RunE: runTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)
}

func runTokens(cmd *cobra.Command, args []string) error {
	path, err := appdir.TokensFilePath()
	if err != nil {
		return fmt.Errorf("resolve tokens file path: %w", err)
	}
	serviceIDs := registry.New(services.Default()).ServiceIDs()
	return tokenscli.Run(path, serviceIDs)
}
