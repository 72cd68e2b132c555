package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/portops/sof-server/internal/classifier"
	"github.com/portops/sof-server/internal/export"
	"github.com/portops/sof-server/internal/extract"
	"github.com/portops/sof-server/internal/logging"
	"github.com/portops/sof-server/internal/metrics"
	"github.com/portops/sof-server/internal/models"
	"github.com/portops/sof-server/internal/timeline"
	"github.com/portops/sof-server/internal/timestamp"
)

type options struct {
	format     string
	vocabulary string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "sofctl",
		Short: "Reconcile Statement of Facts timelines",
		Long: `sofctl turns Statement of Facts data into an ordered port-call timeline.

Events whose times cannot be established from the document are listed as
unresolved with a reason instead of being guessed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "", "output format: table, json, csv or yaml (default table on a terminal, json otherwise)")
	root.PersistentFlags().StringVar(&opts.vocabulary, "vocabulary", "", "YAML file overriding the rest and exclusion vocabulary")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newReconcileCmd(opts),
		newScanCmd(opts),
		newNormalizeCmd(),
	)
	return root
}

func newReconcileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile FILE",
		Short: "Reconcile a detector extraction (JSON) into a report",
		Long: `Reconcile reads an extraction of the form
{"ship_details": {...}, "events": [{"event", "start_time", "end_time", "tags"}]}
and prints the reconciled report. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var ext models.Extraction
			if err := json.Unmarshal(data, &ext); err != nil {
				return fmt.Errorf("decoding extraction: %w", err)
			}
			return opts.render(cmd, ext)
		},
	}
}

func newScanCmd(opts *options) *cobra.Command {
	var patterns []string

	cmd := &cobra.Command{
		Use:   "scan FILE",
		Short: "Scan a plain-text SoF for events and reconcile them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			detector, err := extract.NewPatternDetector(patterns...)
			if err != nil {
				return err
			}
			return opts.render(cmd, *detector.Scan(string(data)))
		},
	}
	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "event pattern to look for (repeatable, replaces the built-in list)")
	return cmd
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "normalize TOKEN...",
		Short:   "Normalize date/time tokens as printed in a SoF",
		Example: `  sofctl normalize "11th October 2019 0600 HRS" "11.10.2019 14:30" "2019-10-11 05:00"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, tok := range args {
				t, err := timestamp.Parse(tok)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s\t!! %v\n", tok, err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", tok, timestamp.Format(t))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tokens could not be normalized", failed, len(args))
			}
			return nil
		},
	}
}

func (o *options) render(cmd *cobra.Command, ext models.Extraction) error {
	format, err := export.ParseFormat(o.format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	logger, err := logging.New(cmd.ErrOrStderr(), o.logLevel, logging.FormatAuto)
	if err != nil {
		return err
	}

	builder, err := o.builder(logger)
	if err != nil {
		return err
	}

	out := builder.Build(ext)
	return export.Write(cmd.OutOrStdout(), format, &out.Report)
}

func (o *options) builder(logger zerolog.Logger) (*timeline.Builder, error) {
	vocab, err := classifier.LoadVocabulary(o.vocabulary)
	if err != nil {
		return nil, err
	}
	return timeline.NewBuilder(classifier.NewClassifier(vocab), metrics.NewReporter(nil), logger), nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
