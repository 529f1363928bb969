package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crimson-sun/sentinel/internal/config"
	"github.com/crimson-sun/sentinel/internal/output"
	"github.com/crimson-sun/sentinel/internal/output/async"
	"github.com/crimson-sun/sentinel/internal/output/file"
	"github.com/crimson-sun/sentinel/internal/output/kafka"
	"github.com/crimson-sun/sentinel/internal/output/multi"
	"github.com/crimson-sun/sentinel/internal/output/postgres"
	"github.com/crimson-sun/sentinel/internal/output/stdout"
	"github.com/crimson-sun/sentinel/internal/output/webhook"
	"github.com/crimson-sun/sentinel/internal/pipeline"
)

// exportSink writes every annotated record to each path. ".ndjson" and
// ".jsonl" paths (optionally .zst) use NDJSON regardless of format. The
// path "-" writes to console.
func exportSink(paths []string, format output.Format, console io.Writer) pipeline.Sink {
	return pipeline.Sink{
		Name: "export",
		Open: func(b pipeline.Batch) (output.Output, error) {
			outs := make([]output.Output, 0, len(paths))
			for _, p := range paths {
				out, err := openExport(p, formatFor(p, format), b.Columns, console)
				if err != nil {
					multi.New(outs...).Close()
					return nil, err
				}
				outs = append(outs, out)
			}
			return multi.New(outs...), nil
		},
	}
}

func openExport(path string, format output.Format, columns []string, console io.Writer) (output.Output, error) {
	if path == "-" {
		return stdout.NewWriter(console, format, columns), nil
	}
	return file.New(path, format, columns)
}

func formatFor(path string, fallback output.Format) output.Format {
	name := strings.TrimSuffix(strings.ToLower(path), ".zst")
	switch filepath.Ext(name) {
	case ".ndjson", ".jsonl":
		return output.NDJSON
	case ".csv":
		return output.CSV
	default:
		return fallback
	}
}

const webhookDrainTimeout = 30 * time.Second

// alertSinks builds the anomaly-only sinks enabled in cfg. cleanup releases
// shared connections and must be called once the sinks are no longer used.
func alertSinks(ctx context.Context, cfg config.Config) (sinks []pipeline.Sink, cleanup func(), err error) {
	cleanup = func() {}

	if cfg.Webhook.URL != "" {
		wh := cfg.Webhook
		sinks = append(sinks, pipeline.Sink{
			Name:   "webhook",
			Alerts: true,
			Open: func(b pipeline.Batch) (output.Output, error) {
				opts := []webhook.Option{webhook.WithBatchID(b.ID), webhook.WithHeaders(wh.Headers)}
				if wh.BatchSize > 0 {
					opts = append(opts, webhook.WithBatchSize(wh.BatchSize))
				}
				// Full batches are POSTed from the drain goroutine, off the
				// pipeline's write loop. Close waits and reports any loss.
				return async.New(webhook.New(wh.URL, opts...), async.WithDrainTimeout(webhookDrainTimeout)), nil
			},
		})
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kc := kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		}
		sinks = append(sinks, pipeline.Sink{
			Name:   "kafka",
			Alerts: true,
			Open: func(b pipeline.Batch) (output.Output, error) {
				out, err := kafka.New(kc, b.ID)
				if err != nil {
					return nil, err
				}
				return out, nil
			},
		})
	}

	if cfg.Postgres.DSN != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = pool.Close
		if cfg.Postgres.CreateTable {
			if err := postgres.New(pool, "", postgres.WithTable(cfg.Postgres.Table)).EnsureTable(ctx); err != nil {
				pool.Close()
				return nil, func() {}, err
			}
		}
		sinks = append(sinks, postgresSink(pool, cfg.Postgres.Table))
	}
	return sinks, cleanup, nil
}

func postgresSink(pool *pgxpool.Pool, table string) pipeline.Sink {
	return pipeline.Sink{
		Name: "postgres",
		Open: func(b pipeline.Batch) (output.Output, error) {
			if b.ID == "" {
				return nil, fmt.Errorf("postgres sink: batch without id")
			}
			return postgres.New(pool, b.ID, postgres.WithTable(table)), nil
		},
	}
}
