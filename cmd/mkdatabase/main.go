package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/fasta"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/refdb"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "OOPS! %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	taxonomy := flag.String("taxonomy", "", "tab-separated table of sequence name and annotation levels")
	input := flag.String("i", "-", "raw reference sequences (FASTA, optionally .gz), - for stdin")
	output := flag.String("o", "-", "annotated database, - for stdout, .gz to compress")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *taxonomy == "" {
		return apperrors.New(apperrors.ErrConfig, "a taxonomy table is required (-taxonomy)")
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	tax, err := refdb.OpenTaxonomy(*taxonomy)
	if err != nil {
		return err
	}
	reader, err := fasta.Open(*input)
	if err != nil {
		return err
	}
	defer reader.Close()
	writer, err := fasta.Create(*output, 0)
	if err != nil {
		return err
	}

	stats, err := refdb.Annotate(reader, tax, writer)
	if cerr := writer.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	slog.Info("database written",
		"output", *output,
		"taxa", humanize.Comma(int64(len(tax))),
		"written", humanize.Comma(stats.Written),
		"skipped", humanize.Comma(stats.Skipped),
	)
	return nil
}
