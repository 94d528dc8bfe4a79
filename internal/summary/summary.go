// Package summary tallies a classification result file at one taxonomy
// level.
package summary

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

const (
	Ambiguous    = "AMBIGUOUS"
	Unclassified = "UNCLASSIFIED"
)

// Options selects the level and the cutoffs a call must meet.
type Options struct {
	// Level is 1-based and counts levels in the order they are printed.
	Level int
	// Similarity is the minimum search score.
	Similarity float64
	// Threshold is the minimum bootstrap confidence.
	Threshold float64
}

// Count is the number of results assigned to one name.
type Count struct {
	Name  string
	Count int
}

// Report is the tally of one result file.
type Report struct {
	// Counts holds the classified names, largest count first.
	Counts       []Count
	Ambiguous    int
	Unclassified int
	Total        int
}

// Validate checks opts before any input is read.
func (o Options) Validate() error {
	if o.Level <= 0 {
		return apperrors.Newf(apperrors.ErrConfig, "level = %d: value must be greater than 0", o.Level)
	}
	if o.Similarity < 0 || o.Similarity > 1 {
		return apperrors.Newf(apperrors.ErrConfig, "similarity = %g: value must be in [0,1]", o.Similarity)
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return apperrors.Newf(apperrors.ErrConfig, "threshold = %g: value must be in [0,1]", o.Threshold)
	}
	return nil
}

// Summarize reads result lines from r. A line counts towards its name when
// both its score and its confidence meet the cutoffs; ambiguous lines are
// counted as ambiguous and everything else as unclassified. Lines starting
// with '#' and blank lines are skipped.
func Summarize(r io.Reader, opts Options) (Report, error) {
	if err := opts.Validate(); err != nil {
		return Report{}, err
	}
	nameField := opts.Level * 2
	confField := nameField + 1

	counts := make(map[string]int)
	var rep Report
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) <= confField {
			return Report{}, apperrors.Newf(apperrors.ErrFormat,
				"line %d: %d fields is fewer than level %d needs", lineNo, len(fields), opts.Level)
		}
		rep.Total++

		name := fields[nameField]
		if name == Ambiguous {
			rep.Ambiguous++
			continue
		}
		score, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Report{}, apperrors.Newf(apperrors.ErrFormat, "line %d: invalid score %q", lineNo, fields[1])
		}
		conf, err := strconv.ParseFloat(fields[confField], 64)
		if err != nil {
			return Report{}, apperrors.Newf(apperrors.ErrFormat, "line %d: invalid confidence %q", lineNo, fields[confField])
		}
		if conf >= opts.Threshold && score >= opts.Similarity {
			counts[name]++
		} else {
			rep.Unclassified++
		}
	}
	if err := sc.Err(); err != nil {
		return Report{}, apperrors.Newf(apperrors.ErrIO, "reading results: %v", err)
	}

	rep.Counts = make([]Count, 0, len(counts))
	for name, n := range counts {
		rep.Counts = append(rep.Counts, Count{Name: name, Count: n})
	}
	sort.Slice(rep.Counts, func(i, j int) bool {
		if rep.Counts[i].Count != rep.Counts[j].Count {
			return rep.Counts[i].Count > rep.Counts[j].Count
		}
		return rep.Counts[i].Name < rep.Counts[j].Name
	})
	return rep, nil
}

// Print writes the report: one name per line, then the unclassified total
// (ambiguous included) and the ambiguous count in parentheses. With percent
// the counts are shown as percentages of all results.
func (rep Report) Print(w io.Writer, percent bool) error {
	bw := bufio.NewWriter(w)
	value := func(n int) string {
		if !percent {
			return strconv.Itoa(n)
		}
		if rep.Total == 0 {
			return fmt.Sprintf("%f", 0.0)
		}
		return fmt.Sprintf("%f", 100*float64(n)/float64(rep.Total))
	}
	for _, c := range rep.Counts {
		fmt.Fprintf(bw, "%s\t%s\n", c.Name, value(c.Count))
	}
	fmt.Fprintf(bw, "%s\t%s\n", Unclassified, value(rep.Unclassified+rep.Ambiguous))
	fmt.Fprintf(bw, "(%s\t%s)\n", Ambiguous, value(rep.Ambiguous))
	if err := bw.Flush(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing summary: %v", err)
	}
	return nil
}
