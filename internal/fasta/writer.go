package fasta

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

// Writer serialises records. It is safe for concurrent use; each record is
// written whole.
type Writer struct {
	mu     sync.Mutex
	bw     *bufio.Writer
	closer io.Closer
	width  int
	name   string
}

// NewWriter writes records to w, wrapping sequence lines at width columns.
// A width of zero keeps each sequence on one line. The caller keeps
// ownership of w.
func NewWriter(w io.Writer, width int) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, 1<<20), width: width, name: "output"}
}

// Create opens path for writing. "-" writes to stdout and files ending in
// .gz are compressed.
func Create(path string, width int) (*Writer, error) {
	if path == "-" {
		w := NewWriter(os.Stdout, width)
		w.name = "stdout"
		return w, nil
	}
	f, err := os.Create(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "could not create %s: %v", path, err)
	}
	var (
		dst    io.Writer = f
		closer io.Closer = f
	)
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		dst = gz
		closer = &gzipSink{Writer: gz, file: f}
	}
	w := NewWriter(dst, width)
	w.closer = closer
	w.name = path
	return w, nil
}

type gzipSink struct {
	*gzip.Writer
	file *os.File
}

func (g *gzipSink) Close() error {
	gzErr := g.Writer.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

// Write emits ">header" followed by the sequence lines.
func (w *Writer) Write(header, seq string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.bw.WriteByte(headerMarker)
	w.bw.WriteString(header)
	w.bw.WriteByte('\n')
	if w.width <= 0 {
		w.bw.WriteString(seq)
		w.bw.WriteByte('\n')
	} else {
		for len(seq) > 0 {
			n := min(w.width, len(seq))
			w.bw.WriteString(seq[:n])
			w.bw.WriteByte('\n')
			seq = seq[n:]
		}
	}
	// bufio keeps the first error; checking once per record is enough.
	if _, err := w.bw.Write(nil); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing %s: %v", w.name, err)
	}
	return nil
}

// Close flushes buffered records and closes the file opened by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.bw.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "closing %s: %v", w.name, err)
	}
	return nil
}
