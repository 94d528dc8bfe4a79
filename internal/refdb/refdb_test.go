package refdb

import (
	"context"
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

const taxonomy = "S001\tLactobacillus_casei\tLactobacillus \tLactobacillaceae\n" +
	"\n" +
	"S002\tBacillus_cereus\tBacillus\tBacillaceae\n" +
	"S003\tStale_name\tStale\tStaleaceae\n" +
	"S003\tEscherichia_coli\tEscherichia\tEnterobacteriaceae\n"

const raw = ">S001 Lactobacillus casei; strain ATCC 334\n" +
	"acggtcaagt\ntgcaggctta\n" +
	">S999 not in the taxonomy\n" +
	"ACGTACGTAC\n" +
	">S003\n" +
	"TTTGGccaaC\n" +
	">S002\told annotation\n" +
	"GGAATCGATC\n"

func TestLoadTaxonomy(t *testing.T) {
	tax, err := LoadTaxonomy(strings.NewReader(taxonomy))
	require.NoError(t, err)

	assert.Len(t, tax, 3)
	assert.Equal(t, "Lactobacillus_casei\tLactobacillus\tLactobacillaceae", tax["S001"])
	assert.Equal(t, "Escherichia_coli\tEscherichia\tEnterobacteriaceae", tax["S003"])
}

func TestLoadTaxonomyRejectsLinesWithoutLevels(t *testing.T) {
	_, err := LoadTaxonomy(strings.NewReader("S001\tSpeciesX\nS002\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFormat)
}

func TestOpenTaxonomyMissingFile(t *testing.T) {
	_, err := OpenTaxonomy(filepath.Join(t.TempDir(), "absent.tsv"))
	assert.ErrorIs(t, err, apperrors.ErrIO)
}

func TestAnnotate(t *testing.T) {
	tax, err := LoadTaxonomy(strings.NewReader(taxonomy))
	require.NoError(t, err)

	var out strings.Builder
	w := fasta.NewWriter(&out, 0)
	stats, err := Annotate(fasta.NewReader(strings.NewReader(raw)), tax, w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, Stats{Written: 3, Skipped: 1}, stats)
	assert.Equal(t,
		">S001\tLactobacillus_casei\tLactobacillus\tLactobacillaceae\nACGGTCAAGTTGCAGGCTTA\n"+
			">S003\tEscherichia_coli\tEscherichia\tEnterobacteriaceae\nTTTGGCCAAC\n"+
			">S002\tBacillus_cereus\tBacillus\tBacillaceae\nGGAATCGATC\n",
		out.String())
}

func TestAnnotatePropagatesReaderErrors(t *testing.T) {
	_, err := Annotate(fasta.NewReader(strings.NewReader("ACGT\n")), Taxonomy{}, fasta.NewWriter(&strings.Builder{}, 0))
	assert.ErrorIs(t, err, apperrors.ErrFormat)
}

func TestAnnotatedDatabaseBuildsAnIndex(t *testing.T) {
	dir := t.TempDir()
	taxPath := filepath.Join(dir, "taxonomy.tsv")
	require.NoError(t, os.WriteFile(taxPath, []byte(taxonomy), 0o644))
	tax, err := OpenTaxonomy(taxPath)
	require.NoError(t, err)

	var out strings.Builder
	w := fasta.NewWriter(&out, 0)
	_, err = Annotate(fasta.NewReader(strings.NewReader(raw)), tax, w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	z, err := kmer.New(4)
	require.NoError(t, err)
	db, err := index.Build(context.Background(), fasta.NewReader(strings.NewReader(out.String())), z,
		index.BuildOptions{Threads: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, db.NumSequences())
	assert.Equal(t, 3, db.NumLevels())
}
