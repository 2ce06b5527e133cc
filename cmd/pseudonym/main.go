// Package main is the pseudonym command line tool: key generation, batch
// resolution, word list preparation and API token issuance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pseudonym",
		Short: "Deterministic three-word pseudonyms",
		Long: `Maps identifiers to stable three-word pseudonyms under a secret key.

Configuration is read from the environment (PSEUDONYM_SECRET_KEY,
PSEUDONYM_WORDS_FIRST, PSEUDONYM_BACKEND, ...) and from the YAML file
named by --config or PSEUDONYM_CONFIG.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")

	rootCmd.AddCommand(
		newKeygenCmd(),
		newResolveCmd(),
		newWordsCmd(),
		newTokenCmd(),
	)
	return rootCmd
}
