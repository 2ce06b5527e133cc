package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pseudonym/internal/platform/config"
	"pseudonym/internal/platform/logger"
	"pseudonym/internal/pseudonym/bootstrap"
	"pseudonym/internal/pseudonym/models"
)

type resolver interface {
	Resolve(ctx context.Context, identifier []byte) (models.Pseudonym, error)
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [identifier...]",
		Short: "Resolve identifiers to pseudonyms",
		Long: `Resolves each argument, or each line of stdin when no arguments are
given, and prints one pseudonym per line in input order.`,
		RunE: runResolve,
	}
	cmd.Flags().IntP("concurrency", "j", 8, "Identifiers resolved in parallel")
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return fmt.Errorf("failed to get concurrency flag: %w", err)
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, "text")
	ctx := cmd.Context()
	rt, err := bootstrap.Open(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	inputs := fromArgs(args)
	if len(inputs) == 0 {
		if inputs, err = readLines(cmd.InOrStdin()); err != nil {
			return err
		}
	}
	return resolveAll(ctx, rt.Population, inputs, cmd.OutOrStdout(), concurrency)
}

// input is one identifier and where it came from, for error messages.
type input struct {
	source     string
	identifier string
}

func fromArgs(args []string) []input {
	inputs := make([]input, len(args))
	for i, arg := range args {
		inputs[i] = input{source: fmt.Sprintf("argument %d", i+1), identifier: arg}
	}
	return inputs
}

// resolveAll resolves inputs concurrently and writes the results in input
// order. The first failure stops the batch.
func resolveAll(ctx context.Context, r resolver, inputs []input, w io.Writer, concurrency int) error {
	names := make([]models.Pseudonym, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for i, in := range inputs {
		g.Go(func() error {
			name, err := r.Resolve(gctx, []byte(in.identifier))
			if err != nil {
				return fmt.Errorf("%s: %w", in.source, err)
			}
			names[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := bufio.NewWriter(w)
	for _, name := range names {
		if _, err := fmt.Fprintln(out, name); err != nil {
			return err
		}
	}
	return out.Flush()
}

// readLines returns the non-empty lines of r, numbered as they appear in
// the input. A trailing carriage return is not part of the identifier.
func readLines(r io.Reader) ([]input, error) {
	var inputs []input
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		inputs = append(inputs, input{source: fmt.Sprintf("line %d", n), identifier: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read identifiers: %w", err)
	}
	return inputs, nil
}

// loadConfig points PSEUDONYM_CONFIG at --config before reading the
// environment.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path != "" {
		if err := os.Setenv("PSEUDONYM_CONFIG", path); err != nil {
			return config.Config{}, err
		}
	}
	return config.FromEnv()
}
