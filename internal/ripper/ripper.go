// Package ripper extracts the primer-bounded variable region of amplicon
// sequences so a reference database can be cut down to the region a
// sequencing run covers.
package ripper

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
)

// RecordReader yields input records and is safe for concurrent use.
// *fasta.Reader implements it.
type RecordReader interface {
	Next() (fasta.Record, error)
}

// RecordWriter receives extracted regions and is safe for concurrent use.
// *fasta.Writer implements it.
type RecordWriter interface {
	Write(header, seq string) error
}

// Ends selects primer sites.
type Ends uint8

const (
	Forward Ends = 1 << iota
	Reverse
)

// ParseEnds accepts "", "f", "r" or "fr".
func ParseEnds(s string) (Ends, error) {
	switch s {
	case "":
		return 0, nil
	case "f":
		return Forward, nil
	case "r":
		return Reverse, nil
	case "fr":
		return Forward | Reverse, nil
	}
	return 0, apperrors.Newf(apperrors.ErrConfig, "primer ends %q: must be one of f, r, fr", s)
}

// Outcome records what happened to one sequence.
type Outcome int

const (
	Kept Outcome = iota
	Dirty
	NoForward
	NoReverse
	WrongSize
	Empty
	numOutcomes
)

var outcomeNames = [numOutcomes]string{"kept", "dirty", "no_forward", "no_reverse", "size", "empty"}

func (o Outcome) String() string {
	if o < 0 || o >= numOutcomes {
		return "unknown"
	}
	return outcomeNames[o]
}

// Options tunes a Ripper.
type Options struct {
	// Trim cuts the matched primer sites off the region.
	Trim Ends
	// Require discards sequences missing a primer site.
	Require Ends
	// MinSize and MaxSize bound the region length. The filter is off
	// while MaxSize is 0.
	MinSize int
	MaxSize int
	// BadChars is the most ambiguous bases a sequence may carry. -1
	// disables the check.
	BadChars int
	Threads  int
	Metrics  *metrics.Metrics
}

// Stats counts sequences per outcome.
type Stats struct {
	Kept      int64
	Dirty     int64
	NoForward int64
	NoReverse int64
	WrongSize int64
	Empty     int64
}

// Total is the number of sequences scanned.
func (s Stats) Total() int64 {
	return s.Kept + s.Dirty + s.NoForward + s.NoReverse + s.WrongSize + s.Empty
}

// Ripper cuts primer-bounded regions out of sequences.
type Ripper struct {
	m      *Matcher
	opts   Options
	counts [numOutcomes]atomic.Int64
}

// New returns a Ripper using m.
func New(m *Matcher, opts Options) (*Ripper, error) {
	if opts.Threads < 1 {
		return nil, apperrors.Newf(apperrors.ErrConfig, "threads = %d: value must be >= 1", opts.Threads)
	}
	if opts.MinSize < 0 || opts.MaxSize < 0 || (opts.MaxSize > 0 && opts.MinSize > opts.MaxSize) {
		return nil, apperrors.Newf(apperrors.ErrConfig,
			"sizes %d,%d: need 0 <= min <= max", opts.MinSize, opts.MaxSize)
	}
	if opts.BadChars < -1 {
		return nil, apperrors.Newf(apperrors.ErrConfig, "badchars = %d: value must be >= -1", opts.BadChars)
	}
	return &Ripper{m: m, opts: opts}, nil
}

// Extract returns the region of seq between the primer sites. The string
// is only meaningful when the outcome is Kept.
func (r *Ripper) Extract(seq string) (string, Outcome) {
	if seq == "" {
		return "", Empty
	}
	if r.opts.BadChars >= 0 && countAmbiguous(seq) > r.opts.BadChars {
		return "", Dirty
	}

	if loc := r.m.forward.FindStringIndex(seq); loc != nil {
		if r.opts.Trim&Forward != 0 {
			seq = seq[loc[1]:]
		} else {
			seq = seq[loc[0]:]
		}
	} else if r.opts.Require&Forward != 0 {
		return "", NoForward
	}

	loc := r.m.reverse.FindStringIndex(seq)
	if loc == nil {
		loc = r.m.reverseRC.FindStringIndex(seq)
	}
	if loc != nil {
		if r.opts.Trim&Reverse != 0 {
			seq = seq[:loc[0]]
		} else {
			seq = seq[:loc[1]]
		}
	} else if r.opts.Require&Reverse != 0 {
		return "", NoReverse
	}

	if r.opts.MaxSize > 0 && (len(seq) < r.opts.MinSize || len(seq) > r.opts.MaxSize) {
		return "", WrongSize
	}
	if seq == "" {
		return "", Empty
	}
	return seq, Kept
}

// Run extracts the region of every record of src and writes the kept ones
// to dst under the record name. Records are written as workers finish them.
func (r *Ripper) Run(ctx context.Context, src RecordReader, dst RecordWriter) (Stats, error) {
	log := logger.FromContext(ctx).With("component", "ripper")
	log.Info("extracting regions",
		"threads", r.opts.Threads,
		"min_size", r.opts.MinSize,
		"max_size", r.opts.MaxSize,
		"badchars", r.opts.BadChars,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Threads; i++ {
		g.Go(func() error {
			return r.work(gctx, src, dst)
		})
	}
	err := g.Wait()
	stats := r.Stats()
	if err != nil {
		return stats, err
	}
	log.Info("regions extracted",
		"scanned", stats.Total(),
		"kept", stats.Kept,
		"dirty", stats.Dirty,
		"no_forward", stats.NoForward,
		"no_reverse", stats.NoReverse,
		"wrong_size", stats.WrongSize,
	)
	return stats, nil
}

func (r *Ripper) work(ctx context.Context, src RecordReader, dst RecordWriter) error {
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
		region, outcome := r.Extract(rec.Sequence)
		if outcome == Kept {
			if err := dst.Write(rec.Name(), region); err != nil {
				return err
			}
		}
		r.counts[outcome].Add(1)
		if r.opts.Metrics != nil {
			r.opts.Metrics.RegionsExtracted.WithLabelValues(outcome.String()).Inc()
		}
	}
}

// Stats returns the counters accumulated so far.
func (r *Ripper) Stats() Stats {
	return Stats{
		Kept:      r.counts[Kept].Load(),
		Dirty:     r.counts[Dirty].Load(),
		NoForward: r.counts[NoForward].Load(),
		NoReverse: r.counts[NoReverse].Load(),
		WrongSize: r.counts[WrongSize].Load(),
		Empty:     r.counts[Empty].Load(),
	}
}

func countAmbiguous(seq string) int {
	n := 0
	for i := 0; i < len(seq); i++ {
		switch upper(seq[i]) {
		case 'R', 'Y', 'K', 'M', 'S', 'W', 'B', 'D', 'H', 'V', 'N', 'X', '-':
			n++
		}
	}
	return n
}
