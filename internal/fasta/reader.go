// Package fasta reads FASTA records sequentially. A single Reader may be
// shared by many goroutines; each Next call hands out exactly one record.
package fasta

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

const headerMarker = '>'

// maxLineLength bounds a single input line.
var maxLineLength = 64 * 1024 * 1024

// Record is one header+sequence pair. Ordinal is the 1-based position of the
// record in its input.
type Record struct {
	Ordinal  int64
	Header   string
	Sequence string
}

// ID returns the header text before the first tab.
func (r Record) ID() string {
	if i := strings.IndexByte(r.Header, '\t'); i >= 0 {
		return r.Header[:i]
	}
	return r.Header
}

// Name returns the header text before the first whitespace.
func (r Record) Name() string {
	if i := strings.IndexAny(r.Header, " \t"); i >= 0 {
		return r.Header[:i]
	}
	return r.Header
}

// Reader hands out records from an underlying stream.
type Reader struct {
	mu       sync.Mutex
	scanner  *bufio.Scanner
	closer   io.Closer
	name     string
	pending  string
	havePend bool
	numRead  int64
	done     bool
}

// Open opens path for reading. "-" reads stdin and files ending in .gz are
// decompressed.
func Open(path string) (*Reader, error) {
	rc, err := openFile(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(rc)
	r.closer = rc
	r.name = path
	return r, nil
}

func openFile(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "could not open %s: %v", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, apperrors.Newf(apperrors.ErrIO, "could not open gzip stream %s: %v", path, err)
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

// NewReader reads records from r. The caller keeps ownership of r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLineLength)), maxLineLength)
	return &Reader{scanner: scanner, name: "input"}
}

// Next returns the next record, or io.EOF once the input is exhausted.
func (r *Reader) Next() (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return Record{}, io.EOF
	}

	var (
		header string
		seq    strings.Builder
	)
	if r.havePend {
		header = r.pending
		r.havePend = false
	}
	for r.scanner.Scan() {
		raw := r.scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if raw[0] == headerMarker {
			next := strings.TrimRight(raw[1:], "\r")
			if strings.TrimSpace(next) == "" {
				return Record{}, apperrors.Newf(apperrors.ErrFormat,
					"%s: empty header after record %d", r.name, r.numRead)
			}
			if header != "" {
				r.pending = next
				r.havePend = true
				return r.emit(header, seq.String()), nil
			}
			header = next
			continue
		}
		if header == "" {
			return Record{}, apperrors.Newf(apperrors.ErrFormat,
				"%s: sequence data before the first header", r.name)
		}
		seq.WriteString(strings.TrimSpace(raw))
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, scanError(r.name, err)
	}
	r.done = true
	if header == "" {
		return Record{}, io.EOF
	}
	return r.emit(header, seq.String()), nil
}

func (r *Reader) emit(header, seq string) Record {
	r.numRead++
	return Record{
		Ordinal:  r.numRead,
		Header:   header,
		Sequence: seq,
	}
}

// NumRead returns the number of records handed out so far.
func (r *Reader) NumRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numRead
}

// Close releases the file opened by Open. It is a no-op for readers built
// with NewReader.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Count returns the number of headers in the file at path.
func Count(path string) (int64, error) {
	rc, err := openFile(path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLineLength)), maxLineLength)
	var count int64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] == headerMarker {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, scanError(path, err)
	}
	return count, nil
}

// scanError separates oversized lines, which are bad content, from failures
// of the underlying stream.
func scanError(name string, err error) error {
	if errors.Is(err, bufio.ErrTooLong) {
		return apperrors.Newf(apperrors.ErrFormat, "%s: line longer than %d bytes", name, maxLineLength)
	}
	return apperrors.Newf(apperrors.ErrIO, "reading %s: %v", name, err)
}
