package index

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
)

const references = ">r1\tSpeciesX\tGenusA\n" +
	"ACGTACGTAC\n" +
	">r2\tSpeciesY\tGenusA\n" +
	"ACGTACGTAC\n" +
	">r3\tSpeciesZ\tGenusB\n" +
	"TTTTGGGGCC\n"

func build(t *testing.T, records string, k, threads int) *Database {
	t.Helper()
	z, err := kmer.New(k)
	require.NoError(t, err)
	db, err := Build(context.Background(), fasta.NewReader(strings.NewReader(records)), z, BuildOptions{Threads: threads})
	require.NoError(t, err)
	return db
}

func names(db *Database, level int, ids []AnnotationID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = db.AnnotationName(level, id)
	}
	return out
}

func TestBuildLoadsAllRecords(t *testing.T) {
	db := build(t, references, 3, 1)

	assert.Equal(t, 3, db.K())
	assert.Equal(t, 3, db.NumSequences())
	assert.Equal(t, 2, db.NumLevels())
	assert.Equal(t, []string{"SpeciesX", "SpeciesY", "SpeciesZ"}, db.Dictionary(0))
	assert.Equal(t, []string{"GenusA", "GenusB"}, db.Dictionary(1))
}

func TestBuildClearsSentinelBucket(t *testing.T) {
	db := build(t, ">r1\tS\tG\nACGNACGT\n", 3, 1)
	z, _ := kmer.New(3)
	assert.Empty(t, db.Bucket(z.Sentinel()))
}

func TestBuildCountsSequences(t *testing.T) {
	z, _ := kmer.New(3)
	m := metrics.New(prometheus.NewRegistry())
	_, err := Build(context.Background(), fasta.NewReader(strings.NewReader(references)), z,
		BuildOptions{Threads: 2, Metrics: m})
	require.NoError(t, err)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SequencesIndexed))
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name    string
		records string
		kind    error
	}{
		{"no records", "", apperrors.ErrFormat},
		{"no taxonomy fields", ">r1\nACGT\n", apperrors.ErrFormat},
		{"field count mismatch", ">r1\tS\tG\nACGT\n>r2\tS\nACGT\n", apperrors.ErrFormat},
		{"bad fasta", "ACGT\n", apperrors.ErrFormat},
	}
	z, _ := kmer.New(3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(context.Background(), fasta.NewReader(strings.NewReader(tt.records)), z, BuildOptions{Threads: 2})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestBuildRespectsMemoryLimit(t *testing.T) {
	z, _ := kmer.New(kmer.MaxSize)
	_, err := Build(context.Background(), fasta.NewReader(strings.NewReader(references)), z,
		BuildOptions{MemoryLimit: 1 << 20})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrResource)
	assert.Equal(t, apperrors.ExitResource, apperrors.ExitCode(err))
}

func TestSearchReturnsTiedReferences(t *testing.T) {
	db := build(t, references, 3, 1)
	z, _ := kmer.New(3)

	hit := db.Search(z.Encode("ACGTACGTAC"))
	assert.InDelta(t, 1.0, hit.Score, 1e-9)
	assert.Equal(t, 2, hit.Ties())
	assert.ElementsMatch(t, []string{"SpeciesX", "SpeciesY"}, names(db, 0, hit.Annotations[0]))
	assert.Equal(t, []string{"GenusA", "GenusA"}, names(db, 1, hit.Annotations[1]))

	hit = db.Search(z.Encode("TTTTGGGGCC"))
	assert.InDelta(t, 1.0, hit.Score, 1e-9)
	assert.Equal(t, []string{"SpeciesZ"}, names(db, 0, hit.Annotations[0]))
}

func TestSearchPartialMatch(t *testing.T) {
	db := build(t, references, 3, 1)
	z, _ := kmer.New(3)

	// r1 and r2 share three of the five query keys.
	keys := z.Encode("ACGTAAA")
	hit := db.Search(keys)
	assert.Greater(t, hit.Score, 0.0)
	assert.Less(t, hit.Score, 1.0)
	assert.Equal(t, 2, hit.Ties())
}

func TestSearchEmptyQueryTiesEverything(t *testing.T) {
	db := build(t, references, 3, 1)

	hit := db.Search(nil)
	assert.Zero(t, hit.Score)
	assert.Equal(t, 3, hit.Ties())

	z, _ := kmer.New(3)
	hit = db.Search(z.Encode("GG"))
	assert.Zero(t, hit.Score)
	assert.Equal(t, 3, hit.Ties())
}

func TestSearchUnmatchedQueryTiesEverything(t *testing.T) {
	db := build(t, ">r1\tS1\tG\nAAAAAA\n>r2\tS2\tG\nCCCCCC\n", 3, 1)
	z, _ := kmer.New(3)

	hit := db.Search(z.Encode("GGGGGG"))
	assert.Zero(t, hit.Score)
	assert.Equal(t, 2, hit.Ties())
}

func TestSearchIsThreadIndependent(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString(">r")
		sb.WriteString(strings.Repeat("x", i))
		sb.WriteString("\tS")
		sb.WriteByte(byte('A' + i%7))
		sb.WriteString("\tG")
		sb.WriteByte(byte('A' + i%3))
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("ACGT"[i%4:i%4+1]+"ACGT", 5+i%5))
		sb.WriteString("\n")
	}
	single := build(t, sb.String(), 4, 1)
	multi := build(t, sb.String(), 4, 8)
	z, _ := kmer.New(4)

	for _, q := range []string{"ACGTACGTAAAC", "CCACGTCACGT", "GGGG", ""} {
		a := single.Search(z.Encode(q))
		b := multi.Search(z.Encode(q))
		assert.InDelta(t, a.Score, b.Score, 1e-12, q)
		for level := range a.Annotations {
			assert.ElementsMatch(t,
				names(single, level, a.Annotations[level]),
				names(multi, level, b.Annotations[level]), q)
		}
	}
}

func TestSearchConcurrent(t *testing.T) {
	db := build(t, references, 3, 1)
	z, _ := kmer.New(3)
	keys := z.Encode("ACGTACGTAC")

	done := make(chan Hit, 16)
	for i := 0; i < cap(done); i++ {
		go func() { done <- db.Search(keys) }()
	}
	for i := 0; i < cap(done); i++ {
		hit := <-done
		assert.Equal(t, 2, hit.Ties())
	}
}

func TestFromContentsRoundTrip(t *testing.T) {
	db := build(t, references, 3, 1)
	again, err := FromContents(db.Contents())
	require.NoError(t, err)

	assert.Equal(t, db.Fingerprint(), again.Fingerprint())
	assert.Equal(t, db.Dictionary(1), again.Dictionary(1))
}

func TestFromContentsValidates(t *testing.T) {
	fresh := func() *Contents {
		c := build(t, references, 3, 1).Contents()
		return c
	}
	tests := []struct {
		name   string
		mutate func(c *Contents)
	}{
		{"bad k", func(c *Contents) { c.K = 0 }},
		{"bucket count", func(c *Contents) { c.Buckets = c.Buckets[:10] }},
		{"sentinel not empty", func(c *Contents) { c.Buckets[len(c.Buckets)-1] = PostingList{0} }},
		{"no levels", func(c *Contents) { c.Dictionaries = nil; c.Annotations = nil }},
		{"duplicate names", func(c *Contents) { c.Dictionaries[1] = []string{"GenusA", "GenusA"} }},
		{"annotation out of range", func(c *Contents) { c.Annotations[1] = []AnnotationID{0, 0, 9} }},
		{"annotation count", func(c *Contents) { c.Annotations[0] = c.Annotations[0][:1] }},
		{"sequence out of range", func(c *Contents) { c.Buckets[0] = PostingList{7} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fresh()
			tt.mutate(c)
			_, err := FromContents(c)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrFormat)
		})
	}
}

func TestNewBucketsLimit(t *testing.T) {
	buckets, err := NewBuckets(65, 0)
	require.NoError(t, err)
	assert.Len(t, buckets, 65)

	_, err = NewBuckets(1<<30, 1024)
	assert.ErrorIs(t, err, apperrors.ErrResource)
}
