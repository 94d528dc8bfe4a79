package ripper

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

// Primers is a forward/reverse primer pair in IUPAC notation.
type Primers struct {
	Forward string
	Reverse string
}

// LoadPrimers reads a primer pair from FASTA records. A header containing
// "forward" (any case) names the forward primer, otherwise one containing
// "reverse" names the reverse primer. Later records replace earlier ones.
func LoadPrimers(src RecordReader) (Primers, error) {
	var p Primers
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Primers{}, err
		}
		header := strings.ToUpper(rec.Header)
		switch {
		case strings.Contains(header, "FORWARD"):
			p.Forward = rec.Sequence
		case strings.Contains(header, "REVERSE"):
			p.Reverse = rec.Sequence
		}
	}
	if p.Forward == "" || p.Reverse == "" {
		return Primers{}, apperrors.New(apperrors.ErrFormat,
			"could not find primer sequences: need one forward and one reverse record")
	}
	return p, nil
}

// OpenPrimers loads a primer pair from the FASTA file at path.
func OpenPrimers(path string) (Primers, error) {
	r, err := fasta.Open(path)
	if err != nil {
		return Primers{}, err
	}
	defer r.Close()
	return LoadPrimers(r)
}

// Matcher locates primer sites in a sequence.
type Matcher struct {
	forward   *regexp.Regexp
	reverse   *regexp.Regexp
	reverseRC *regexp.Regexp
}

// Compile builds a Matcher for p. With mismatch set each primer also
// matches with one inserted, substituted or deleted base.
func Compile(p Primers, mismatch bool) (*Matcher, error) {
	pattern := expandIUPAC
	if mismatch {
		pattern = permute
	}
	var m Matcher
	for _, c := range []struct {
		dst    **regexp.Regexp
		primer string
	}{
		{&m.forward, p.Forward},
		{&m.reverse, p.Reverse},
		{&m.reverseRC, reverseComplement(p.Reverse)},
	} {
		re, err := regexp.Compile("(?i)" + pattern(c.primer))
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrFormat, "invalid primer %q: %v", c.primer, err)
		}
		*c.dst = re
	}
	return &m, nil
}
