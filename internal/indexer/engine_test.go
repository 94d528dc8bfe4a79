package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func setup(t *testing.T) (Options, *kmer.Kmerizer) {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "refs.fa")
	require.NoError(t, os.WriteFile(db, []byte(references), 0o644))
	z, err := kmer.New(3)
	require.NoError(t, err)
	return Options{
		Database:      db,
		SnapshotPath:  db + ".idx_3",
		WriteSnapshot: true,
		Threads:       2,
		Metrics:       metrics.New(prometheus.NewRegistry()),
	}, z
}

func outcome(opts Options, label string) float64 {
	return testutil.ToFloat64(opts.Metrics.SnapshotOutcomes.WithLabelValues(label))
}

func TestOpenBuildsThenLoadsSnapshot(t *testing.T) {
	opts, z := setup(t)

	first, err := Open(context.Background(), z, opts)
	require.NoError(t, err)
	assert.Equal(t, SourceBuild, first.Source)
	assert.Positive(t, first.SnapshotSize)
	assert.FileExists(t, opts.SnapshotPath)
	assert.Equal(t, 1.0, outcome(opts, "stale"))
	assert.Equal(t, 1.0, outcome(opts, "written"))

	second, err := Open(context.Background(), z, opts)
	require.NoError(t, err)
	assert.Equal(t, SourceSnapshot, second.Source)
	assert.Equal(t, first.SnapshotSize, second.SnapshotSize)
	assert.Equal(t, first.DB.Fingerprint(), second.DB.Fingerprint())
	assert.Equal(t, 1.0, outcome(opts, "loaded"))
}

func TestOpenWithoutWritingSnapshot(t *testing.T) {
	opts, z := setup(t)
	opts.WriteSnapshot = false

	e, err := Open(context.Background(), z, opts)
	require.NoError(t, err)
	assert.Equal(t, SourceBuild, e.Source)
	assert.NoFileExists(t, opts.SnapshotPath)
}

func TestOpenRebuildsOtherKmerSize(t *testing.T) {
	opts, z := setup(t)
	_, err := Open(context.Background(), z, opts)
	require.NoError(t, err)

	z4, err := kmer.New(4)
	require.NoError(t, err)
	// Same path, different k: the snapshot is stale.
	e, err := Open(context.Background(), z4, opts)
	require.NoError(t, err)
	assert.Equal(t, SourceBuild, e.Source)
	assert.Equal(t, 4, e.DB.K())
}

func TestOpenRebuildsCorruptSnapshot(t *testing.T) {
	opts, z := setup(t)
	_, err := Open(context.Background(), z, opts)
	require.NoError(t, err)

	data, err := os.ReadFile(opts.SnapshotPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(opts.SnapshotPath, data, 0o644))

	e, err := Open(context.Background(), z, opts)
	require.NoError(t, err)
	assert.Equal(t, SourceBuild, e.Source)
	assert.Equal(t, 3, e.DB.NumSequences())
}

func TestOpenRebuildFlagIgnoresSnapshot(t *testing.T) {
	opts, z := setup(t)
	_, err := Open(context.Background(), z, opts)
	require.NoError(t, err)

	opts.Rebuild = true
	e, err := Open(context.Background(), z, opts)
	require.NoError(t, err)
	assert.Equal(t, SourceBuild, e.Source)
}

func TestOpenMissingDatabase(t *testing.T) {
	opts, z := setup(t)
	opts.Database = filepath.Join(t.TempDir(), "absent.fa")
	opts.SnapshotPath = opts.Database + ".idx_3"

	_, err := Open(context.Background(), z, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIO)
}

func TestOpenSnapshotWriteFailure(t *testing.T) {
	opts, z := setup(t)
	// The parent of the snapshot path is a regular file.
	opts.SnapshotPath = filepath.Join(opts.Database, "snap")
	opts.Rebuild = true

	_, err := Open(context.Background(), z, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIO)
	assert.Equal(t, 1.0, outcome(opts, "write_failed"))
}
