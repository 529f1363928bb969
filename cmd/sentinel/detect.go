package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/crimson-sun/sentinel/internal/config"
	"github.com/crimson-sun/sentinel/internal/engine"
	"github.com/crimson-sun/sentinel/internal/engine/artifact"
	"github.com/crimson-sun/sentinel/internal/logging"
	"github.com/crimson-sun/sentinel/internal/narrative"
	"github.com/crimson-sun/sentinel/internal/output"
	"github.com/crimson-sun/sentinel/internal/pipeline"
	"github.com/crimson-sun/sentinel/internal/source"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func runDetect(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "sentinel: %v\n", err)
		return exitFatal
	}

	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	modelDir := fs.String("model", cfg.Model.Dir, "model bundle directory or manifest file")
	threshold := fs.Float64("threshold", cfg.Model.Threshold, "anomaly probability threshold in [0, 1]")
	format := fs.String("format", cfg.Output.Format, "export format: csv or ndjson")
	describe := fs.Bool("describe", cfg.Narrative.Enabled, "request a narrative overview of the anomalies")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	var outs listFlag
	fs.Var(&outs, "out", "annotated export path (repeatable, \"-\" for stdout, .zst compresses)")
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "sentinel detect: at least one input file is required")
		fs.Usage()
		return exitFatal
	}
	if len(outs) == 0 && cfg.Output.Path != "" {
		outs = listFlag{cfg.Output.Path}
	}

	exportFormat, err := output.ParseFormat(*format)
	if err != nil {
		fmt.Fprintf(stderr, "sentinel detect: %v\n", err)
		return exitFatal
	}
	logging.Init(exportsToStdout(outs), logging.ParseLevel(*logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	art, err := artifact.Load(*modelDir, artifact.WithONNXLibrary(cfg.Model.ONNXLibrary))
	if err != nil {
		fmt.Fprintf(stderr, "sentinel detect: %v\n", err)
		return exitFatal
	}
	defer art.Close()
	slog.Debug("model loaded", "name", art.Name, "version", art.Version, "features", len(art.Schema))

	alerts, cleanup, err := alertSinks(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "sentinel detect: %v\n", err)
		return exitFatal
	}
	defer cleanup()

	opts := []pipeline.Option{pipeline.WithSinks(alerts...)}
	if len(outs) > 0 {
		opts = append(opts, pipeline.WithSinks(exportSink(outs, exportFormat, stdout)))
	}
	if *describe {
		opts = append(opts, pipeline.WithDescriber(newDescriber(cfg)))
	}
	p := pipeline.New(engine.FromArtifact(art), opts...)

	rep, err := p.Run(ctx, source.Files(fs.Args()...), *threshold)
	if err != nil && rep.BatchID == "" {
		fmt.Fprintf(stderr, "sentinel detect: %v\n", err)
		return exitFatal
	}

	// Keep stdout clean for an export written there.
	report := stdout
	if exportsToStdout(outs) {
		report = stderr
	}
	printReport(report, stderr, rep)

	if err != nil {
		fmt.Fprintf(stderr, "sentinel detect: %v\n", err)
		return exitFatal
	}
	if rep.HasAnomalies() {
		return exitAnomalies
	}
	return exitClean
}

func exportsToStdout(outs []string) bool {
	for _, o := range outs {
		if o == "-" {
			return true
		}
	}
	return false
}

func newDescriber(cfg config.Config) *narrative.Client {
	return narrative.New(narrative.Config{
		BaseURL:     cfg.Narrative.BaseURL,
		APIKey:      cfg.Narrative.APIKey,
		Model:       cfg.Narrative.Model,
		MaxTokens:   cfg.Narrative.MaxTokens,
		Temperature: cfg.Narrative.Temperature,
		Timeout:     cfg.Narrative.Timeout,
	})
}

func printReport(w, errw io.Writer, rep pipeline.Report) {
	for _, warn := range rep.Warnings {
		fmt.Fprintf(errw, "warning: skipped %s: %v\n", warn.Source, warn.Err)
	}
	if !rep.HasAnomalies() {
		fmt.Fprintf(w, "No anomalies found in %d records (threshold %.2f).\n", rep.Dataset.Len(), rep.Threshold)
		return
	}
	fmt.Fprintf(w, "Found %d anomalies in %d records (threshold %.2f, batch %s):\n",
		len(rep.Anomalies), rep.Dataset.Len(), rep.Threshold, rep.BatchID)
	for _, a := range rep.Anomalies {
		fmt.Fprintln(w, narrative.FormatLine(a, 0))
	}
	if rep.Narrative == nil {
		return
	}
	if rep.Narrative.Err != nil {
		fmt.Fprintf(errw, "narrative unavailable: %v\n", rep.Narrative.Err)
		return
	}
	fmt.Fprintf(w, "\nOverview:\n%s\n", rep.Narrative.Text)
}
