package results

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

// LineOptions controls the layout of a result line.
type LineOptions struct {
	// Order is config.OrderGeneralFirst or config.OrderSpecificFirst.
	Order string
	// Ambiguous appends the competing names of an ambiguous most specific
	// level.
	Ambiguous bool
}

// LineWriter writes one tab-separated line per result. Lines from
// concurrent writers never interleave.
type LineWriter struct {
	mu   sync.Mutex
	w    *bufio.Writer
	opts LineOptions
}

// NewLineWriter returns a LineWriter buffering into w.
func NewLineWriter(w io.Writer, opts LineOptions) *LineWriter {
	return &LineWriter{w: bufio.NewWriterSize(w, 64<<10), opts: opts}
}

func (lw *LineWriter) Write(_ context.Context, r classifier.Result) error {
	line := FormatLine(r, lw.opts)
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.WriteString(line); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing result line: %v", err)
	}
	return nil
}

// Close flushes buffered lines.
func (lw *LineWriter) Close(context.Context) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.w.Flush(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "flushing result lines: %v", err)
	}
	return nil
}

// FormatLine renders r as
//
//	id  score  name  confidence  ...  [candidates]
//
// with fractions printed to two decimals and a trailing newline.
func FormatLine(r classifier.Result, opts LineOptions) string {
	var b strings.Builder
	b.WriteString(r.QueryID)
	b.WriteByte('\t')
	b.WriteString(fixed(r.Score))

	n := len(r.Levels)
	for i := 0; i < n; i++ {
		level := n - 1 - i
		if opts.Order == config.OrderSpecificFirst {
			level = i
		}
		l := r.Levels[level]
		b.WriteByte('\t')
		b.WriteString(l.Name)
		b.WriteByte('\t')
		b.WriteString(fixed(l.Confidence))
	}
	if opts.Ambiguous && n > 0 && r.Levels[0].IsAmbiguous() {
		b.WriteByte('\t')
		b.WriteString(strings.Join(r.Levels[0].Candidates, ","))
	}
	b.WriteByte('\n')
	return b.String()
}

func fixed(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
