package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier/cache"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/results"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/redis"
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
	input := flag.String("i", "", "query sequences (FASTA, optionally .gz)")
	kmerSize := flag.Int("k", 0, "k-mer size [1,15]")
	threads := flag.Int("p", 0, "number of classification threads")
	bootstrap := flag.Int("b", 0, "bootstrap rounds, 0 disables")
	subsample := flag.Int("s", 0, "bootstrap subsample divisor, default k")
	writeIndex := flag.Bool("w", false, "write a snapshot of a freshly built index")
	ambiguous := flag.Bool("a", false, "list competing names of ambiguous species")
	order := flag.String("order", "", "level order: general-first or specific-first")
	progress := flag.Bool("progress", false, "show a progress bar on stderr")
	flushCache := flag.Bool("flush-cache", false, "drop cached hits of this index before classifying")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "d":
			cfg.Index.Database = *database
		case "i":
			cfg.Output.Input = *input
		case "k":
			cfg.Kmer.Size = *kmerSize
		case "p":
			cfg.Kmer.Threads = *threads
		case "b":
			cfg.Kmer.Bootstrap = *bootstrap
		case "s":
			cfg.Kmer.Subsample = *subsample
		case "w":
			cfg.Index.WriteSnapshot = *writeIndex
		case "a":
			cfg.Output.Ambiguous = *ambiguous
		case "order":
			cfg.Output.Order = *order
		case "progress":
			cfg.Output.Progress = *progress
		case "flush-cache":
			cfg.Redis.FlushOnStart = *flushCache
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Index.Database == "" || cfg.Output.Input == "" {
		return apperrors.New(apperrors.ErrConfig, "a reference database (-d) and an input file (-i) are required")
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	runID := uuid.NewString()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "classifier", runID)
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
	e, err := indexer.Open(ctx, z, indexer.Options{
		Database:      cfg.Index.Database,
		SnapshotPath:  cfg.Index.SnapshotPath(cfg.Kmer.Size),
		WriteSnapshot: cfg.Index.WriteSnapshot,
		Threads:       cfg.Kmer.Threads,
		MemoryLimit:   limit,
		Metrics:       m,
	})
	if err != nil {
		return err
	}

	opts := classifier.Options{
		Threads:   cfg.Kmer.Threads,
		Bootstrap: cfg.Kmer.Bootstrap,
		Subsample: cfg.Kmer.SubsampleDivisor(),
		Metrics:   m,
	}
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		hits := cache.New(client, e.DB.Fingerprint(), cfg.Redis.CacheTTL, m)
		if cfg.Redis.FlushOnStart {
			if err := hits.Invalidate(ctx); err != nil {
				return apperrors.Newf(apperrors.ErrResource, "%v", err)
			}
		}
		opts.Cache = hits
	}
	if cfg.Output.Progress {
		total, err := fasta.Count(cfg.Output.Input)
		if err != nil {
			return err
		}
		opts.Progress = pb.Full.Start64(total)
		defer opts.Progress.Finish()
	}

	reader, err := fasta.Open(cfg.Output.Input)
	if err != nil {
		return err
	}
	defer reader.Close()

	sink, err := openSinks(ctx, cfg, runID, m)
	if err != nil {
		return err
	}
	var stats classifier.Stats
	c, runErr := classifier.New(e.DB, z, sink, opts)
	if runErr == nil {
		classifyCtx, classifySpan := tracing.StartChildSpan(ctx, "classify")
		stats, runErr = c.Run(classifyCtx, reader)
		classifySpan.SetAttr("queries", stats.Queries)
		classifySpan.End()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sink.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("classification finished",
		"run_id", runID,
		"queries", stats.Queries,
		"reverse", stats.Reverse,
		"ambiguous", stats.Ambiguous,
	)
	return nil
}

func openSinks(ctx context.Context, cfg *config.Config, runID string, m *metrics.Metrics) (*results.Multi, error) {
	multi := results.NewMulti(m)
	multi.Add("stdout", results.NewLineWriter(os.Stdout, results.LineOptions{
		Order:     cfg.Output.Order,
		Ambiguous: cfg.Output.Ambiguous,
	}))
	if cfg.Kafka.Enabled {
		multi.Add("kafka", results.NewKafkaSink(kafka.NewProducer(cfg.Kafka), runID, cfg.Kafka.BatchSize))
	}
	if cfg.Postgres.Enabled {
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			multi.Close(ctx)
			return nil, err
		}
		store := results.NewPostgresStore(client, runID, cfg.Postgres.BatchSize)
		if err := store.EnsureSchema(ctx); err != nil {
			client.Close()
			multi.Close(ctx)
			return nil, apperrors.Newf(apperrors.ErrResource, "%v", err)
		}
		multi.Add("postgres", &closingStore{PostgresStore: store, client: client})
	}
	return multi, nil
}

// closingStore closes the connection pool after the last batch.
type closingStore struct {
	*results.PostgresStore
	client *postgres.Client
}

func (s *closingStore) Close(ctx context.Context) error {
	err := s.PostgresStore.Close(ctx)
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}
