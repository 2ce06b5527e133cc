package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pseudonym/internal/platform/secrets"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random secret key as hex",
		Long: `Prints a new 32-byte secret key. Store it as PSEUDONYM_SECRET_KEY.

Every pseudonym depends on the key: losing it or changing it makes every
stored record unreachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := secrets.Generate()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}
}
