package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/ripper"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
)

const usage = "usage: ripper [flags] IN_FILE OUT_FILE PRIMER_FILE"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "OOPS! %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	trim := flag.String("t", "", "primer sites to cut off: f, r or fr")
	require := flag.String("r", "", "primer sites a sequence must carry: f, r or fr")
	sizes := flag.String("s", "", "min,max length of the extracted region")
	mismatch := flag.Bool("m", false, "allow one inserted, substituted or deleted primer base")
	badChars := flag.Int("b", -1, "most ambiguous bases allowed, -1 disables the check")
	threads := flag.Int("n", 1, "number of worker threads")
	flag.Parse()
	if flag.NArg() != 3 {
		return apperrors.New(apperrors.ErrConfig, usage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	opts := ripper.Options{BadChars: *badChars, Threads: *threads}
	if opts.Trim, err = ripper.ParseEnds(*trim); err != nil {
		return err
	}
	if opts.Require, err = ripper.ParseEnds(*require); err != nil {
		return err
	}
	if *sizes != "" {
		if opts.MinSize, opts.MaxSize, err = parseSizes(*sizes); err != nil {
			return err
		}
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	runID := uuid.NewString()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, runID)

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdown := m.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}
	opts.Metrics = m

	primers, err := ripper.OpenPrimers(flag.Arg(2))
	if err != nil {
		return err
	}
	slog.Info("primers loaded", "forward", primers.Forward, "reverse", primers.Reverse)
	matcher, err := ripper.Compile(primers, *mismatch)
	if err != nil {
		return err
	}
	r, err := ripper.New(matcher, opts)
	if err != nil {
		return err
	}

	reader, err := fasta.Open(flag.Arg(0))
	if err != nil {
		return err
	}
	defer reader.Close()
	writer, err := fasta.Create(flag.Arg(1), 60)
	if err != nil {
		return err
	}
	stats, err := r.Run(ctx, reader, writer)
	if cerr := writer.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	slog.Info("ripper finished",
		"run_id", runID,
		"scanned", humanize.Comma(stats.Total()),
		"kept", humanize.Comma(stats.Kept),
	)
	return nil
}

// parseSizes reads "a,b" and returns the bounds in ascending order.
func parseSizes(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, apperrors.Newf(apperrors.ErrConfig, "sizes %q: want min,max", s)
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(a))
	hi, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil {
		return 0, 0, apperrors.Newf(apperrors.ErrConfig, "sizes %q: want two integers", s)
	}
	return min(lo, hi), max(lo, hi), nil
}
