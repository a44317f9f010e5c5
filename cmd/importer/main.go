package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/korjavin/productinsight/internal/importer"
)

func main() {
	src := flag.String("src", "", "path to the nutrient dataset CSV, optionally .gz (required)")
	out := flag.String("out", "", "output data directory (required)")
	verbose := flag.Bool("v", false, "log parse statistics and rejected records")
	flag.Parse()

	if *src == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "usage: productinsight-importer -src <path> -out <dir> [-v]")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("starting import", "src", *src, "out", *out)

	m, err := importer.Import(*src, *out, *verbose)
	if err != nil {
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}

	slog.Info("import complete",
		"records", m.RecordCount,
		"indexed", m.IndexedCount,
		"skipped", m.SkippedCount,
		"build_time", m.BuildTime,
	)
	fmt.Printf("Output: %s\n  Rows read       : %d\n  Records kept    : %d\n  Names indexed   : %d\n  Duplicate names : %d\n  Skipped         : %d\n",
		*out, m.RowCount, m.RecordCount, m.IndexedCount, m.DuplicateCount, m.SkippedCount)

	if len(m.SkipReasons) > 0 {
		fmt.Println("  Skip reasons:")
		keys := make([]string, 0, len(m.SkipReasons))
		for k := range m.SkipReasons {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("    %-32s: %d\n", k, m.SkipReasons[k])
		}
	}
}
