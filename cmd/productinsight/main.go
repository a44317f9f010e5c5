package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/korjavin/productinsight/internal/inference"
	"github.com/korjavin/productinsight/internal/scoring"
	"github.com/korjavin/productinsight/internal/textparse"
)

type options struct {
	table   string
	model   string
	ort     string
	workers int
	verbose bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "productinsight",
		Short:         "Score packaged food ingredient lists",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.table, "table", envOr("PRODUCTINSIGHT_TABLE", "assets/nutrient_lookup.csv"), "nutrient reference table (CSV)")
	pf.StringVar(&opts.model, "model", envOr("PRODUCTINSIGHT_MODEL", "assets/health_model.yaml"), "health model (.yaml or .onnx)")
	pf.StringVar(&opts.ort, "ort-library", os.Getenv("ORT_LIBRARY"), "onnxruntime shared library for .onnx models")
	pf.IntVar(&opts.workers, "workers", 4, "concurrent model calls per request")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(newParseCmd(), newScoreCmd(opts), newTextCmd(opts))
	return root
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [text]",
		Short: "Print the ingredient names found in label text (stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := textArg(cmd, args)
			if err != nil {
				return err
			}
			for _, name := range textparse.Parse(text) {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newScoreCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "score <ingredient>...",
		Short: "Score an explicit ingredient list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, opts, nil, args)
		},
	}
}

func newTextCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "text [label text]",
		Short: "Parse label text and score the ingredients (stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := textArg(cmd, args)
			if err != nil {
				return err
			}
			names := textparse.Parse(text)
			return runScore(cmd, opts, names, names)
		},
	}
}

type output struct {
	Ingredients []string `json:"ingredients,omitempty"`
	scoring.Result
	Rank scoring.Rank `json:"rank"`
}

func runScore(cmd *cobra.Command, opts *options, parsed, names []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt := inference.NewRuntime()
	defer rt.Close()
	p, err := scoring.Open(ctx, scoring.Source{
		TablePath: opts.table,
		Model:     inference.Config{Path: opts.model, ORTLibrary: opts.ort},
	}, rt, slog.Default(), scoring.WithWorkers(opts.workers))
	if err != nil {
		return err
	}

	res, err := p.ComputeHealthScore(ctx, names)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output{Ingredients: parsed, Result: res, Rank: scoring.RankFor(res.OverallHealthScore)})
}

func textArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
