package segment

import (
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/kmer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
)

const references = ">r1\tSpeciesX\tGenusA\tFamilyF\n" +
	"ACGTACGTACGGTTACAGAT\n" +
	">r2\tSpeciesY\tGenusA\tFamilyF\n" +
	"ACGTACGTACCCTTAGAGAT\n" +
	">r3\tSpeciesZ\tGenusB\tFamilyF\n" +
	"TTTTGGGGCCAATTGGCCAA\n"

func buildDB(t *testing.T, k int) *index.Database {
	t.Helper()
	z, err := kmer.New(k)
	require.NoError(t, err)
	db, err := index.Build(context.Background(), fasta.NewReader(strings.NewReader(references)), z,
		index.BuildOptions{Threads: 1})
	require.NoError(t, err)
	return db
}

func writeSnapshot(t *testing.T, db *index.Database) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refs.fa.idx_4")
	size, err := Write(path, db.Contents())
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)
	return path
}

func TestWriteReadRoundTrip(t *testing.T) {
	db := buildDB(t, 4)
	path := writeSnapshot(t, db)

	c, err := Read(path, 4, 0)
	require.NoError(t, err)
	loaded, err := index.FromContents(c)
	require.NoError(t, err)

	assert.Equal(t, db.Fingerprint(), loaded.Fingerprint())
	assert.Equal(t, db.NumSequences(), loaded.NumSequences())
	for level := 0; level < db.NumLevels(); level++ {
		assert.Equal(t, db.Dictionary(level), loaded.Dictionary(level))
	}

	z, _ := kmer.New(4)
	for _, q := range []string{"ACGTACGTAC", "TTGGCCAA", "ACG", "GGGGGGGG"} {
		keys := z.Encode(q)
		assert.Equal(t, db.Search(keys), loaded.Search(keys), q)
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	path := writeSnapshot(t, buildDB(t, 4))
	_, err := os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadHeader(t *testing.T) {
	path := writeSnapshot(t, buildDB(t, 4))
	h, err := ReadHeader(path)
	require.NoError(t, err)

	assert.Equal(t, MagicBytes, h.Magic)
	assert.Equal(t, FormatVersion, h.Version)
	assert.Equal(t, uint32(4), h.KmerSize)
	assert.Equal(t, uint32(3), h.NumSequences)
	assert.Equal(t, uint32(3), h.NumLevels)
	assert.Equal(t, uint64(257), h.NumBuckets)
	assert.Positive(t, h.CreatedAt)
}

func TestReadMissingFileIsStale(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent"), 4, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStaleSnapshot)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, errors.Is(err, ErrCorrupt))
}

func patch(t *testing.T, path string, offset int64, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(b, offset)
	require.NoError(t, err)
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestReadStaleHeaders(t *testing.T) {
	tests := []struct {
		name   string
		offset int64
		value  []byte
	}{
		{"magic", 0, u32(0xdeadbeef)},
		{"version", 4, u32(FormatVersion + 1)},
		{"kmer size", 8, u32(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSnapshot(t, buildDB(t, 4))
			patch(t, path, tt.offset, tt.value)

			_, err := Read(path, 4, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrStaleSnapshot)
			assert.False(t, errors.Is(err, ErrCorrupt))
		})
	}
}

func TestReadWrongKmerSize(t *testing.T) {
	path := writeSnapshot(t, buildDB(t, 4))
	_, err := Read(path, 5, 0)
	assert.ErrorIs(t, err, apperrors.ErrStaleSnapshot)
}

func TestReadCorruptBody(t *testing.T) {
	path := writeSnapshot(t, buildDB(t, 4))
	h, err := ReadHeader(path)
	require.NoError(t, err)

	// Rename the first species so the body still decodes and only the
	// checksum notices.
	require.Positive(t, h.BodySize)
	patch(t, path, int64(HeaderSize)+2, []byte{'Q'})

	_, err = Read(path, 4, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, apperrors.ErrStaleSnapshot)
}

func TestReadChecksumMismatch(t *testing.T) {
	path := writeSnapshot(t, buildDB(t, 4))
	h, err := ReadHeader(path)
	require.NoError(t, err)
	patch(t, path, int64(HeaderSize)+h.BodySize, u32(0))

	_, err = Read(path, 4, 0)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReadTruncated(t *testing.T) {
	path := writeSnapshot(t, buildDB(t, 4))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()/2))

	_, err = Read(path, 4, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReadRespectsMemoryLimit(t *testing.T) {
	path := writeSnapshot(t, buildDB(t, 4))
	_, err := Read(path, 4, 64)
	assert.ErrorIs(t, err, apperrors.ErrResource)
}

func TestWriteRejectsEmptyContents(t *testing.T) {
	_, err := Write(filepath.Join(t.TempDir(), "empty"), &index.Contents{K: 4})
	assert.Error(t, err)
}
