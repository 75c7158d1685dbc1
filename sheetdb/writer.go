package sheetdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Outcome is the three-valued classification of a remote write. Ambiguous
// means the remote accepted the request but its body did not confirm the
// result (empty or non-JSON response); callers must not treat it as a
// confirmed success.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeConfirmed
	OutcomeAmbiguous
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "failed"
	}
}

type WriteResult struct {
	Outcome Outcome
	Rows    []Row
}

// Store is the write/read surface Writer retries over. *Client satisfies it;
// tests substitute stubs.
type Store interface {
	Write(ctx context.Context, table string, rows []Row, action Action) ([]Row, error)
	Read(ctx context.Context, table string) ([]Row, error)
}

type WriterOptions struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Writer wraps a Store write with bounded retries and outcome classification.
type Writer struct {
	store      Store
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

func NewWriter(store Store, logger *slog.Logger, opts WriterOptions) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Writer{
		store:      store,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}
}

// Write retries the store write up to MaxRetries with a fixed delay between
// attempts. The last attempt's error is propagated, never swallowed.
func (w *Writer) Write(ctx context.Context, table string, rows []Row, action Action) (WriteResult, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		start := time.Now()
		parsed, err := w.store.Write(ctx, table, rows, action)
		elapsed := time.Since(start)
		if err == nil {
			if parsed == nil {
				w.logger.Info("sheetdb_write_ambiguous",
					"table", table, "action", string(action), "attempt", attempt, "elapsed", elapsed.String())
				return WriteResult{Outcome: OutcomeAmbiguous}, nil
			}
			w.logger.Info("sheetdb_write_confirmed",
				"table", table, "action", string(action), "attempt", attempt, "rows", len(parsed), "elapsed", elapsed.String())
			return WriteResult{Outcome: OutcomeConfirmed, Rows: parsed}, nil
		}

		lastErr = err
		w.logger.Warn("sheetdb_write_attempt_failed",
			"table", table, "action", string(action), "attempt", attempt, "error", err.Error())
		if attempt == w.maxRetries {
			break
		}
		select {
		case <-time.After(w.retryDelay):
		case <-ctx.Done():
			return WriteResult{Outcome: OutcomeFailed}, ctx.Err()
		}
	}
	return WriteResult{Outcome: OutcomeFailed}, fmt.Errorf("sheetdb: write to %s failed after %d attempts: %w", table, w.maxRetries, lastErr)
}

// Read passes a full-table read through to the underlying store.
func (w *Writer) Read(ctx context.Context, table string) ([]Row, error) {
	return w.store.Read(ctx, table)
}

// Reconcile resolves an ambiguous write by reading the row back. It returns
// the remote row whose keyColumn matches key, or false when the write did not
// land.
func (w *Writer) Reconcile(ctx context.Context, table, keyColumn, key string) (Row, bool, error) {
	rows, err := w.store.Read(ctx, table)
	if err != nil {
		return nil, false, fmt.Errorf("sheetdb: reconcile read %s: %w", table, err)
	}
	key = strings.TrimSpace(key)
	for _, row := range rows {
		if strings.TrimSpace(row[keyColumn]) == key {
			return row, true, nil
		}
	}
	return nil, false, nil
}
