// Command cdntest runs the probe matrix in-process and writes the report to
// disk. Progress goes to stdout, logs to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/cdnprobe/cdnprobe/cli/internal/report"
	"github.com/cdnprobe/cdnprobe/pkg/config"
	"github.com/cdnprobe/cdnprobe/pkg/engine"
	"github.com/cdnprobe/cdnprobe/pkg/run"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1
	exitConfig    = 2
	exitCancelled = 130
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	rounds := flag.Int("rounds", 0, "rounds to run (0 = runner.default_rounds)")
	delay := flag.Float64("delay", -1, "seconds between probes (negative = runner.default_delay)")
	providers := flag.String("providers", "", "comma-separated provider ids (default: all)")
	endpoints := flag.String("endpoints", "", "comma-separated endpoint ids (default: whole catalog)")
	jsonOut := flag.String("out", "cdn-test-report.json", "write the JSON report here; empty to skip")
	textOut := flag.String("text", "", "write the text report to this file instead of stdout")
	quiet := flag.Bool("quiet", false, "do not print progress")
	noColor := flag.Bool("no-color", false, "disable coloured output")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *noColor {
		color.NoColor = true
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using built-in defaults", "path", *configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdntest: %v\n", err)
		return exitConfig
	}

	req := run.Request{
		Rounds:    *rounds,
		Providers: splitList(*providers),
		Endpoints: splitList(*endpoints),
	}
	if *delay >= 0 {
		req.Delay = delay
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng := engine.New(cfg)

	var pub run.Publisher = run.Discard
	if !*quiet {
		pub = report.NewPrinter(os.Stdout, eng.Catalog.Providers())
	}

	rep, err := eng.Scheduler.Run(ctx, req, pub)
	switch {
	case errors.Is(err, run.ErrConfig):
		fmt.Fprintf(os.Stderr, "cdntest: %v\n", err)
		return exitConfig
	case err != nil && !run.IsCancelled(err):
		fmt.Fprintf(os.Stderr, "cdntest: %v\n", err)
		return exitFailed
	}

	if *jsonOut != "" {
		if werr := report.WriteJSON(*jsonOut, rep); werr != nil {
			fmt.Fprintf(os.Stderr, "cdntest: %v\n", werr)
			return exitFailed
		}
		slog.Info("report written", "path", *jsonOut)
	}

	if werr := writeText(*textOut, rep); werr != nil {
		fmt.Fprintf(os.Stderr, "cdntest: %v\n", werr)
		return exitFailed
	}

	if run.IsCancelled(err) {
		return exitCancelled
	}
	return exitOK
}

func writeText(path string, rep *run.Report) error {
	if path == "" {
		fmt.Fprintln(os.Stdout)
		return report.TextAll(os.Stdout, rep, time.Now())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return closeAfter(f, path, func(w io.Writer) error {
		return report.TextAll(w, rep, time.Now())
	})
}

// closeAfter runs write against f and closes it. A failed close is reported
// unless write already failed.
func closeAfter(f io.WriteCloser, path string, write func(io.Writer) error) error {
	werr := write(f)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", path, cerr)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
