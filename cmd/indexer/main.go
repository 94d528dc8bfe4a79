package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "OOPS! %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	database := flag.String("d", "", "reference database (FASTA, optionally .gz)")
	kmerSize := flag.Int("k", 0, "k-mer size [1,15]")
	threads := flag.Int("p", 0, "number of build threads")
	memoryLimit := flag.String("memory-limit", "", "bucket array memory limit, e.g. 16GiB")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "d":
			cfg.Index.Database = *database
		case "k":
			cfg.Kmer.Size = *kmerSize
		case "p":
			cfg.Kmer.Threads = *threads
		case "memory-limit":
			cfg.Index.MemoryLimit = *memoryLimit
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Index.Database == "" {
		return apperrors.New(apperrors.ErrConfig, "a reference database is required (-d)")
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	runID := uuid.NewString()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "indexer", runID)
	defer func() {
		span.End()
		span.Log()
	}()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdown := m.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	z, err := kmer.New(cfg.Kmer.Size)
	if err != nil {
		return err
	}
	limit, _ := cfg.Index.MemoryLimitBytes()

	slog.Info("starting indexer",
		"run_id", runID,
		"database", cfg.Index.Database,
		"kmer_size", cfg.Kmer.Size,
		"threads", cfg.Kmer.Threads,
	)
	e, err := indexer.Open(ctx, z, indexer.Options{
		Database:      cfg.Index.Database,
		SnapshotPath:  cfg.Index.SnapshotPath(cfg.Kmer.Size),
		WriteSnapshot: true,
		Rebuild:       true,
		Threads:       cfg.Kmer.Threads,
		MemoryLimit:   limit,
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	slog.Info("index ready",
		"run_id", runID,
		"sequences", e.DB.NumSequences(),
		"levels", e.DB.NumLevels(),
		"fingerprint", e.DB.Fingerprint(),
		"snapshot_size", humanize.Bytes(uint64(e.SnapshotSize)),
	)
	return nil
}
