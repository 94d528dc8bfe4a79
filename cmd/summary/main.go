package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/summary"
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
	level := flag.Int("l", 0, "level to summarise, counted in printed order (default 3)")
	similarity := flag.Float64("s", 0, "similarity score cutoff [0,1] (default 0.5)")
	threshold := flag.Float64("t", 0, "bootstrap confidence cutoff [0,1] (default 0.8)")
	percent := flag.Bool("percent", false, "print percentages instead of counts")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] RESULTS_FILE\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "l":
			cfg.Summary.Level = *level
		case "s":
			cfg.Summary.Similarity = *similarity
		case "t":
			cfg.Summary.Threshold = *threshold
		case "percent":
			cfg.Summary.Percent = *percent
		}
	})
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if flag.NArg() != 1 {
		flag.Usage()
		return apperrors.New(apperrors.ErrConfig, "exactly one results file is required")
	}
	var in io.Reader = os.Stdin
	if name := flag.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return apperrors.Newf(apperrors.ErrIO, "could not open file '%s': %v", name, err)
		}
		defer f.Close()
		in = f
	}

	rep, err := summary.Summarize(in, summary.Options{
		Level:      cfg.Summary.Level,
		Similarity: cfg.Summary.Similarity,
		Threshold:  cfg.Summary.Threshold,
	})
	if err != nil {
		return err
	}
	return rep.Print(os.Stdout, cfg.Summary.Percent)
}
