package index

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
)

// RecordReader yields reference records one at a time and is safe for
// concurrent use. *fasta.Reader implements it.
type RecordReader interface {
	Next() (fasta.Record, error)
}

// BuildOptions tunes Build.
type BuildOptions struct {
	Threads     int
	MemoryLimit uint64
	Metrics     *metrics.Metrics
}

// Build drains src into a new Database using opts.Threads workers. The
// first record fixes the number of taxonomy levels. Any error aborts the
// build and no Database is returned.
func Build(ctx context.Context, src RecordReader, z *kmer.Kmerizer, opts BuildOptions) (*Database, error) {
	logger := slog.Default().With("component", "index-builder")
	threads := max(opts.Threads, 1)

	buckets, err := NewBuckets(uint64(z.KeySpaceSize())+1, opts.MemoryLimit)
	if err != nil {
		return nil, err
	}

	first, err := src.Next()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.New(apperrors.ErrFormat, "could not read from database: no reference sequences")
	}
	if err != nil {
		return nil, err
	}
	numLevels := strings.Count(first.Header, "\t")
	if numLevels == 0 {
		return nil, apperrors.Newf(apperrors.ErrFormat,
			"invalid sequence header in record %d: no taxonomy fields: %q", first.Ordinal, first.Header)
	}

	db := newDatabase(z.K(), numLevels, buckets)
	if err := db.commit(first.Ordinal, first.Header, z.Encode(first.Sequence)); err != nil {
		return nil, err
	}
	if opts.Metrics != nil {
		opts.Metrics.SequencesIndexed.Inc()
	}
	logger.Debug("taxonomy levels detected", "levels", numLevels)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				rec, err := src.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				keys := z.Encode(rec.Sequence)

				mu.Lock()
				err = db.commit(rec.Ordinal, rec.Header, keys)
				mu.Unlock()
				if err != nil {
					return err
				}
				if opts.Metrics != nil {
					opts.Metrics.SequencesIndexed.Inc()
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	db.buckets[z.Sentinel()] = nil
	logger.Info("reference sequences loaded",
		"sequences", db.numSequences,
		"levels", numLevels,
		"kmer_size", z.K(),
		"threads", threads,
	)
	return db, nil
}
