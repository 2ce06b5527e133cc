package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"pseudonym/internal/wordlist"
)

func newWordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "words",
		Short: "Prepare word lists",
	}
	cmd.AddCommand(newWordsShuffleCmd(), newWordsCheckCmd())
	return cmd
}

func newWordsShuffleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shuffle FILE",
		Short: "Validate a word list and print it in a seeded random order",
		Long: `Prints the words of FILE shuffled by --seed. The same seed always
produces the same order, so a prepared table can be regenerated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := cmd.Flags().GetUint64("seed")
			if err != nil {
				return fmt.Errorf("failed to get seed flag: %w", err)
			}
			words, err := wordlist.Load(args[0])
			if err != nil {
				return err
			}
			out := bufio.NewWriter(cmd.OutOrStdout())
			for _, word := range wordlist.Shuffle(words, seed) {
				fmt.Fprintln(out, word)
			}
			return out.Flush()
		},
	}
	cmd.Flags().Uint64("seed", 0, "Shuffle seed")
	return cmd
}

func newWordsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the configured word lists against the population size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tables, err := wordlist.LoadTables(cfg.Words.First, cfg.Words.Middle, cfg.Words.Last)
			if err != nil {
				return err
			}
			if err := wordlist.CheckCapacity(tables, cfg.Population.Size); err != nil {
				return err
			}
			sizes := tables.Sizes()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "first=%d middle=%d last=%d population=%d\n",
				sizes.First, sizes.Middle, sizes.Last, cfg.Population.Size)
			return err
		},
	}
}
