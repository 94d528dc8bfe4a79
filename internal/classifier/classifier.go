// Package classifier assigns query reads to the taxonomy of their best
// k-mer matches and estimates per-level confidence by bootstrap
// resampling of the query's k-mers.
package classifier

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
)

// RecordReader yields query records and is safe for concurrent use.
type RecordReader interface {
	Next() (fasta.Record, error)
}

// Sink receives every classification result. Write is called concurrently
// by all workers.
type Sink interface {
	Write(ctx context.Context, r Result) error
}

// HitCache memoises verdicts by sequence. compute runs on a miss.
type HitCache interface {
	GetOrCompute(ctx context.Context, sequence string, compute func() (Verdict, error)) (Verdict, bool, error)
}

// Options tunes a Classifier.
type Options struct {
	Threads int
	// Bootstrap is the number of resampling rounds. 0 disables it.
	Bootstrap int
	// Subsample divides the key count to get the resample size.
	Subsample int
	Metrics   *metrics.Metrics
	Cache     HitCache
	Progress  *pb.ProgressBar
}

// Stats summarises a run.
type Stats struct {
	Queries   int64
	Forward   int64
	Reverse   int64
	CacheHits int64
	// Ambiguous counts ambiguous assignments per level.
	Ambiguous []int64
}

// Classifier searches queries against a read-only index.
type Classifier struct {
	db   *index.Database
	z    *kmer.Kmerizer
	opts Options
	sink Sink

	queries   atomic.Int64
	forward   atomic.Int64
	reverse   atomic.Int64
	cacheHits atomic.Int64
	ambiguous []atomic.Int64
}

// New returns a Classifier writing to sink.
func New(db *index.Database, z *kmer.Kmerizer, sink Sink, opts Options) (*Classifier, error) {
	if z.K() != db.K() {
		return nil, apperrors.Newf(apperrors.ErrConfig,
			"kmer size %d does not match index kmer size %d", z.K(), db.K())
	}
	if opts.Threads < 1 {
		return nil, apperrors.Newf(apperrors.ErrConfig, "threads = %d: value must be >= 1", opts.Threads)
	}
	if opts.Bootstrap < 0 {
		return nil, apperrors.Newf(apperrors.ErrConfig, "bootstrap = %d: value must be >= 0", opts.Bootstrap)
	}
	if opts.Subsample == 0 {
		opts.Subsample = z.K()
	}
	if opts.Subsample < 1 {
		return nil, apperrors.Newf(apperrors.ErrConfig, "subsample = %d: value must be >= 1", opts.Subsample)
	}
	return &Classifier{
		db:        db,
		z:         z,
		opts:      opts,
		sink:      sink,
		ambiguous: make([]atomic.Int64, db.NumLevels()),
	}, nil
}

// Run classifies every record of src using opts.Threads workers. The first
// error from the reader or the sink stops the run.
func (c *Classifier) Run(ctx context.Context, src RecordReader) (Stats, error) {
	log := logger.FromContext(ctx).With("component", "classifier")
	log.Info("classifying sequences",
		"threads", c.opts.Threads,
		"bootstrap", c.opts.Bootstrap,
		"subsample", c.opts.Subsample,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.Threads; i++ {
		g.Go(func() error {
			return c.work(gctx, src)
		})
	}
	err := g.Wait()
	stats := c.Stats()
	if err != nil {
		return stats, err
	}
	log.Info("sequences processed",
		"queries", stats.Queries,
		"forward", stats.Forward,
		"reverse", stats.Reverse,
		"cache_hits", stats.CacheHits,
	)
	return stats, nil
}

// Stats returns the counters accumulated so far.
func (c *Classifier) Stats() Stats {
	s := Stats{
		Queries:   c.queries.Load(),
		Forward:   c.forward.Load(),
		Reverse:   c.reverse.Load(),
		CacheHits: c.cacheHits.Load(),
		Ambiguous: make([]int64, len(c.ambiguous)),
	}
	for i := range c.ambiguous {
		s.Ambiguous[i] = c.ambiguous[i].Load()
	}
	return s
}

func (c *Classifier) work(ctx context.Context, src RecordReader) error {
	// Reseeded per record so results do not depend on scheduling.
	pcg := rand.NewPCG(0, 0)
	rng := rand.New(pcg)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		pcg.Seed(uint64(rec.Ordinal), 0)

		start := time.Now()
		res, err := c.Classify(ctx, rec, rng)
		if err != nil {
			return err
		}
		if err := c.sink.Write(ctx, res); err != nil {
			return err
		}
		c.observe(res, time.Since(start))
	}
}

// Classify processes one record. rng drives bootstrap shuffling.
func (c *Classifier) Classify(ctx context.Context, rec fasta.Record, rng *rand.Rand) (Result, error) {
	fwd := c.z.Encode(rec.Sequence)

	var (
		v   Verdict
		hit bool
		err error
	)
	if c.opts.Cache != nil {
		v, hit, err = c.opts.Cache.GetOrCompute(ctx, rec.Sequence, func() (Verdict, error) {
			return c.verdict(fwd), nil
		})
		if err != nil {
			return Result{}, err
		}
	} else {
		v = c.verdict(fwd)
	}
	if hit {
		c.cacheHits.Add(1)
	}
	if len(v.Unique) != c.db.NumLevels() || len(v.Candidates) != c.db.NumLevels() {
		return Result{}, apperrors.Newf(apperrors.ErrFormat,
			"cached verdict for %q has %d levels, index has %d", rec.ID(), len(v.Unique), c.db.NumLevels())
	}

	keys := fwd
	if v.Orientation == Reverse {
		keys = c.z.ReverseComplement(fwd)
	}
	confidence := c.bootstrap(keys, v.Unique, rng)

	res := Result{
		Ordinal:     rec.Ordinal,
		QueryID:     rec.ID(),
		Score:       v.Score,
		Orientation: v.Orientation,
		Levels:      make([]Level, len(v.Unique)),
	}
	for level, id := range v.Unique {
		if id < 0 {
			res.Levels[level] = Level{Name: Ambiguous, Candidates: v.Candidates[level]}
			continue
		}
		res.Levels[level] = Level{
			Name:       c.db.AnnotationName(level, index.AnnotationID(id)),
			Confidence: confidence[level],
		}
	}
	return res, nil
}

// verdict searches both strands. Reverse wins only with a strictly higher
// score.
func (c *Classifier) verdict(fwd []kmer.Key) Verdict {
	hit := c.db.Search(fwd)
	orientation := Forward
	if rev := c.db.Search(c.z.ReverseComplement(fwd)); rev.Score > hit.Score {
		hit, orientation = rev, Reverse
	}

	v := Verdict{
		Orientation: orientation,
		Score:       hit.Score,
		Unique:      make([]int64, len(hit.Annotations)),
		Candidates:  make([][]string, len(hit.Annotations)),
	}
	for level, ids := range hit.Annotations {
		ids = slices.Clone(ids)
		slices.Sort(ids)
		ids = slices.Compact(ids)
		if len(ids) == 1 {
			v.Unique[level] = int64(ids[0])
			continue
		}
		v.Unique[level] = -1
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = c.db.AnnotationName(level, id)
		}
		slices.Sort(names)
		v.Candidates[level] = names
	}
	return v
}

// bootstrap returns the confidence of every uniquely assigned level. The
// key list is reshuffled cumulatively each round and a prefix of
// len(keys)/Subsample keys is searched. A round credits a level with the
// share of tied hits still carrying the original assignment.
func (c *Classifier) bootstrap(keys []kmer.Key, unique []int64, rng *rand.Rand) []float64 {
	confidence := make([]float64, len(unique))
	if c.opts.Bootstrap == 0 || !slices.ContainsFunc(unique, func(id int64) bool { return id >= 0 }) {
		return confidence
	}

	shuffled := slices.Clone(keys)
	size := len(shuffled) / c.opts.Subsample
	for round := 0; round < c.opts.Bootstrap; round++ {
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		hit := c.db.Search(shuffled[:size])
		for level, id := range unique {
			if id < 0 {
				continue
			}
			ids := hit.Annotations[level]
			var n int
			for _, got := range ids {
				if int64(got) == id {
					n++
				}
			}
			if n > 0 {
				confidence[level] += float64(n) / float64(len(ids))
			}
		}
	}
	for level := range confidence {
		confidence[level] /= float64(c.opts.Bootstrap)
	}
	return confidence
}

func (c *Classifier) observe(res Result, elapsed time.Duration) {
	c.queries.Add(1)
	if res.Orientation == Reverse {
		c.reverse.Add(1)
	} else {
		c.forward.Add(1)
	}
	for level, l := range res.Levels {
		if l.IsAmbiguous() {
			c.ambiguous[level].Add(1)
			if c.opts.Metrics != nil {
				c.opts.Metrics.AmbiguousLevels.WithLabelValues(strconv.Itoa(level)).Inc()
			}
		}
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.QueriesClassified.WithLabelValues(string(res.Orientation)).Inc()
		c.opts.Metrics.QueryLatency.Observe(elapsed.Seconds())
	}
	if c.opts.Progress != nil {
		c.opts.Progress.Increment()
	}
}
