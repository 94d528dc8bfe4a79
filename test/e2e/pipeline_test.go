// Package e2e runs the whole pipeline on files: build and persist an index,
// reload it, classify reads and summarise the result lines.
package e2e

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/results"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/summary"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/config"
)

const references = ">r1\tLactobacillus_casei\tLactobacillus\tLactobacillaceae\n" +
	"ACGGTCAAGTTGCAGGCTTAACCGAT\n" +
	">r2\tLactobacillus_casei\tLactobacillus\tLactobacillaceae\n" +
	"ACGGTCAAGTTGCAGGCTTAACCGAA\n" +
	">r3\tBacillus_cereus\tBacillus\tBacillaceae\n" +
	"TTTGGCCAACCTTGGAATCGATCGGA\n"

// read2 is the reverse complement of r3.
const queries = ">read1\textra\nACGGTCAAGTTGCAGGCTTAACCGAT\n" +
	">read2\nTCCGATCGATTCCAAGGTTGGCCAAA\n" +
	">read3\nNNNN\n"

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func classify(t *testing.T, cfg *config.Config) ([]string, indexer.Source) {
	t.Helper()
	z, err := kmer.New(cfg.Kmer.Size)
	require.NoError(t, err)
	e, err := indexer.Open(context.Background(), z, indexer.Options{
		Database:      cfg.Index.Database,
		SnapshotPath:  cfg.Index.SnapshotPath(cfg.Kmer.Size),
		WriteSnapshot: cfg.Index.WriteSnapshot,
		Threads:       cfg.Kmer.Threads,
	})
	require.NoError(t, err)

	var out bytes.Buffer
	sink := results.NewLineWriter(&out, results.LineOptions{Order: cfg.Output.Order, Ambiguous: cfg.Output.Ambiguous})
	c, err := classifier.New(e.DB, z, sink, classifier.Options{
		Threads:   cfg.Kmer.Threads,
		Bootstrap: cfg.Kmer.Bootstrap,
		Subsample: cfg.Kmer.SubsampleDivisor(),
	})
	require.NoError(t, err)

	r, err := fasta.Open(cfg.Output.Input)
	require.NoError(t, err)
	defer r.Close()
	stats, err := c.Run(context.Background(), r)
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, int64(3), stats.Queries)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	slices.Sort(lines)
	return lines, e.Source
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Kmer.Size = 5
	cfg.Kmer.Threads = 3
	cfg.Kmer.Bootstrap = 10
	cfg.Index.Database = filepath.Join(dir, "refs.fa.gz")
	cfg.Index.WriteSnapshot = true
	cfg.Output.Input = filepath.Join(dir, "reads.fa")
	cfg.Output.Ambiguous = true
	require.NoError(t, cfg.Validate())

	writeGzip(t, cfg.Index.Database, references)
	require.NoError(t, os.WriteFile(cfg.Output.Input, []byte(queries), 0o644))

	built, source := classify(t, cfg)
	assert.Equal(t, indexer.SourceBuild, source)
	assert.FileExists(t, filepath.Join(dir, "refs.fa.gz.idx_5"))

	loaded, source := classify(t, cfg)
	assert.Equal(t, indexer.SourceSnapshot, source)
	assert.Equal(t, built, loaded)

	require.Len(t, built, 3)
	assert.Equal(t, "read1\t1.00\tLactobacillaceae\t1.00\tLactobacillus\t1.00\tLactobacillus_casei\t1.00", built[0])
	assert.True(t, strings.HasPrefix(built[1], "read2\t1.00\tBacillaceae\t"), built[1])
	assert.Equal(t, "read3\t0.00\tAMBIGUOUS\t0.00\tAMBIGUOUS\t0.00\tAMBIGUOUS\t0.00\tBacillus_cereus,Lactobacillus_casei", built[2])

	rep, err := summary.Summarize(strings.NewReader(strings.Join(built, "\n")), summary.Options{Level: 3, Similarity: 0.5, Threshold: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 1, rep.Ambiguous)
	assert.Contains(t, rep.Counts, summary.Count{Name: "Lactobacillus_casei", Count: 1})
}
