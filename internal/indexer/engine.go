// Package indexer decides whether a run loads the k-mer index from its
// snapshot or rebuilds it from the raw reference records.
package indexer

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/tracing"
)

// Source reports where an opened index came from.
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceBuild    Source = "build"
)

// Options configures Open.
type Options struct {
	// Database is the reference FASTA file.
	Database string
	// SnapshotPath is tried before building. Empty disables snapshots.
	SnapshotPath string
	// WriteSnapshot persists a freshly built index to SnapshotPath.
	WriteSnapshot bool
	// Rebuild ignores any existing snapshot.
	Rebuild     bool
	Threads     int
	MemoryLimit uint64
	Metrics     *metrics.Metrics
}

// Engine holds an opened index.
type Engine struct {
	DB     *index.Database
	Source Source
	// SnapshotSize is the size of the snapshot loaded or written, 0 if none.
	SnapshotSize int64
}

// Open loads the snapshot for z's k-mer size or, when it is missing or stale,
// builds the index from opts.Database. Every other failure is fatal.
func Open(ctx context.Context, z *kmer.Kmerizer, opts Options) (*Engine, error) {
	log := logger.FromContext(ctx).With("component", "indexer")

	if opts.SnapshotPath != "" && !opts.Rebuild {
		e, err := load(ctx, z, opts)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, apperrors.ErrStaleSnapshot) {
			return nil, err
		}
		opts.count("stale")
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Info("no index snapshot found, building", "snapshot", opts.SnapshotPath)
		case errors.Is(err, segment.ErrCorrupt):
			log.Warn("index snapshot is corrupt, rebuilding", "snapshot", opts.SnapshotPath, "error", err)
		default:
			log.Info("index snapshot is stale, rebuilding", "snapshot", opts.SnapshotPath, "reason", err)
		}
	}

	db, err := build(ctx, z, opts)
	if err != nil {
		return nil, err
	}
	e := &Engine{DB: db, Source: SourceBuild}
	if opts.WriteSnapshot && opts.SnapshotPath != "" {
		size, err := segment.Write(opts.SnapshotPath, db.Contents())
		if err != nil {
			opts.count("write_failed")
			return nil, apperrors.Newf(apperrors.ErrIO, "writing index snapshot %s: %v", opts.SnapshotPath, err)
		}
		opts.count("written")
		e.SnapshotSize = size
		log.Info("index snapshot written",
			"snapshot", opts.SnapshotPath,
			"size", humanize.Bytes(uint64(size)),
		)
	}
	return e, nil
}

func load(ctx context.Context, z *kmer.Kmerizer, opts Options) (*Engine, error) {
	_, span := tracing.StartChildSpan(ctx, "snapshot_load")
	defer span.End()

	header, err := segment.ReadHeader(opts.SnapshotPath)
	if err != nil {
		return nil, err
	}
	c, err := segment.Read(opts.SnapshotPath, z.K(), opts.MemoryLimit)
	if err != nil {
		return nil, err
	}
	db, err := index.FromContents(c)
	if err != nil {
		return nil, apperrors.Newf(segment.ErrCorrupt, "%v", err)
	}
	size := int64(segment.HeaderSize) + header.BodySize + int64(segment.FooterSize)
	opts.count("loaded")
	span.SetAttr("sequences", db.NumSequences())
	logger.FromContext(ctx).Info("index snapshot loaded",
		"component", "indexer",
		"snapshot", opts.SnapshotPath,
		"size", humanize.Bytes(uint64(size)),
		"sequences", db.NumSequences(),
		"levels", db.NumLevels(),
		"created", humanize.Time(time.Unix(header.CreatedAt, 0)),
	)
	return &Engine{DB: db, Source: SourceSnapshot, SnapshotSize: size}, nil
}

func build(ctx context.Context, z *kmer.Kmerizer, opts Options) (*index.Database, error) {
	ctx, span := tracing.StartChildSpan(ctx, "index_build")
	defer span.End()

	r, err := fasta.Open(opts.Database)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	start := time.Now()
	db, err := index.Build(ctx, r, z, index.BuildOptions{
		Threads:     opts.Threads,
		MemoryLimit: opts.MemoryLimit,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	if opts.Metrics != nil {
		opts.Metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
	}
	span.SetAttr("sequences", db.NumSequences())
	return db, nil
}

func (o Options) count(outcome string) {
	if o.Metrics != nil {
		o.Metrics.SnapshotOutcomes.WithLabelValues(outcome).Inc()
	}
}
