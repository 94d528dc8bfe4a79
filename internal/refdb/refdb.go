// Package refdb prepares reference databases: it joins a taxonomy table onto
// raw FASTA records so every header carries its annotation levels.
package refdb

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

// RecordReader yields raw reference records. *fasta.Reader implements it.
type RecordReader interface {
	Next() (fasta.Record, error)
}

// Taxonomy maps a sequence name to its tab-joined annotation levels, most
// specific first.
type Taxonomy map[string]string

// OpenTaxonomy loads the taxonomy table at path.
func OpenTaxonomy(path string) (Taxonomy, error) {
	f, err := os.Open(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "could not open taxonomy file %s: %v", path, err)
	}
	defer f.Close()
	return LoadTaxonomy(f)
}

// LoadTaxonomy reads tab-separated lines of a sequence name followed by its
// annotation levels. Fields are trimmed and a later line for the same name
// replaces an earlier one. Blank lines are skipped; a line without
// annotation levels is a format error.
func LoadTaxonomy(r io.Reader) (Taxonomy, error) {
	tax := make(Taxonomy)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		fields := strings.Split(sc.Text(), "\t")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) < 2 {
			return nil, apperrors.Newf(apperrors.ErrFormat,
				"taxonomy line %d: no annotation levels for %q", lineNo, fields[0])
		}
		tax[fields[0]] = strings.Join(fields[1:], "\t")
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "reading taxonomy: %v", err)
	}
	return tax, nil
}

// Stats counts the records written and those skipped for lack of a
// taxonomy entry.
type Stats struct {
	Written int64
	Skipped int64
}

// RecordWriter receives annotated records. *fasta.Writer implements it.
type RecordWriter interface {
	Write(header, seq string) error
}

// Annotate writes every record of src whose name is in tax to w, with the
// header replaced by "name<TAB>levels" and the sequence upper-cased.
func Annotate(src RecordReader, tax Taxonomy, w RecordWriter) (Stats, error) {
	var stats Stats
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		name := rec.Name()
		levels, ok := tax[name]
		if !ok {
			stats.Skipped++
			continue
		}
		if err := w.Write(name+"\t"+levels, strings.ToUpper(rec.Sequence)); err != nil {
			return stats, err
		}
		stats.Written++
	}
}
