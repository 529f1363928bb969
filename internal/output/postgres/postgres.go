// Package postgres stores annotated records in PostgreSQL. Rows are buffered
// and bulk-loaded with COPY when the output is closed.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crimson-sun/sentinel/internal/model"
)

// DefaultTable receives rows unless overridden.
const DefaultTable = "annotated_records"

const defaultCloseTimeout = 30 * time.Second

// Columns is the COPY column order.
var Columns = []string{
	"batch_id", "run_id", "stage", "status", "ts", "raw_timestamp",
	"message", "context", "anomaly_prob", "anomalous",
}

const createTable = `CREATE TABLE IF NOT EXISTS %s (
	batch_id      uuid             NOT NULL,
	run_id        text             NOT NULL,
	stage         text             NOT NULL,
	status        text             NOT NULL,
	ts            timestamptz,
	raw_timestamp text             NOT NULL,
	message       text             NOT NULL,
	context       jsonb,
	anomaly_prob  double precision NOT NULL,
	anomalous     boolean          NOT NULL
)`

// DB is the subset of *pgxpool.Pool the output needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Option configures an Output.
type Option func(*Output)

// WithTable sets the destination table, optionally schema-qualified.
func WithTable(name string) Option {
	return func(o *Output) { o.table = pgx.Identifier(strings.Split(name, ".")) }
}

// WithCloseTimeout bounds the COPY issued by Close. Default: 30s.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *Output) { o.closeTimeout = d }
}

// Output buffers rows for one detection batch.
type Output struct {
	db           DB
	batchID      string
	table        pgx.Identifier
	closeTimeout time.Duration

	mu     sync.Mutex
	rows   [][]any
	closed bool
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres output: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres output: ping: %w", err)
	}
	return pool, nil
}

// New creates an Output writing rows tagged with batchID into db.
func New(db DB, batchID string, opts ...Option) *Output {
	o := &Output{
		db:           db,
		batchID:      batchID,
		table:        pgx.Identifier{DefaultTable},
		closeTimeout: defaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EnsureTable creates the destination table if it does not exist.
func (o *Output) EnsureTable(ctx context.Context) error {
	if _, err := o.db.Exec(ctx, fmt.Sprintf(createTable, o.table.Sanitize())); err != nil {
		return fmt.Errorf("postgres output: create table: %w", err)
	}
	return nil
}

// Write buffers rec.
func (o *Output) Write(_ context.Context, rec model.AnnotatedRecord) error {
	row, err := o.row(rec)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("postgres output: write after close")
	}
	o.rows = append(o.rows, row)
	return nil
}

func (o *Output) row(rec model.AnnotatedRecord) ([]any, error) {
	var ts any
	if rec.HasTime() {
		ts = rec.Timestamp
	}
	var ctxJSON any
	if len(rec.Context) > 0 {
		b, err := json.Marshal(rec.Context)
		if err != nil {
			return nil, fmt.Errorf("postgres output: context: %w", err)
		}
		ctxJSON = b
	}
	return []any{
		o.batchID, rec.RunID, rec.Stage, rec.Status, ts, rec.RawTimestamp,
		rec.Message, ctxJSON, rec.AnomalyProb, rec.Anomalous,
	}, nil
}

// Len returns the number of buffered rows.
func (o *Output) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.rows)
}

// Close copies all buffered rows in one COPY. The pool is not closed.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if len(o.rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.closeTimeout)
	defer cancel()

	n, err := o.db.CopyFrom(ctx, o.table, Columns, pgx.CopyFromRows(o.rows))
	if err != nil {
		return fmt.Errorf("postgres output: copy into %s: %w", o.table.Sanitize(), err)
	}
	slog.Info("postgres output stored batch", "batch_id", o.batchID, "rows", n)
	o.rows = nil
	return nil
}
