package sheetdb

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubStore struct {
	writeResults []stubResult
	writeCalls   int
	readRows     []Row
	readErr      error
}

type stubResult struct {
	rows []Row
	err  error
}

func (s *stubStore) Write(ctx context.Context, table string, rows []Row, action Action) ([]Row, error) {
	i := s.writeCalls
	s.writeCalls++
	if i >= len(s.writeResults) {
		i = len(s.writeResults) - 1
	}
	res := s.writeResults[i]
	return res.rows, res.err
}

func (s *stubStore) Read(ctx context.Context, table string) ([]Row, error) {
	return s.readRows, s.readErr
}

func TestWriterConfirmedOnParsedRows(t *testing.T) {
	store := &stubStore{writeResults: []stubResult{{rows: []Row{{"TELEFONO": "1"}}}}}
	w := NewWriter(store, nil, WriterOptions{RetryDelay: time.Millisecond})

	res, err := w.Write(context.Background(), "CONTACTOS", []Row{{"TELEFONO": "1"}}, ActionEdit)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Outcome != OutcomeConfirmed || len(res.Rows) != 1 {
		t.Fatalf("Write() = %+v, want confirmed with one row", res)
	}
}

func TestWriterAmbiguousOnNilRows(t *testing.T) {
	store := &stubStore{writeResults: []stubResult{{rows: nil}}}
	w := NewWriter(store, nil, WriterOptions{RetryDelay: time.Millisecond})

	res, err := w.Write(context.Background(), "CONTACTOS", []Row{{"TELEFONO": "1"}}, ActionEdit)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Outcome != OutcomeAmbiguous {
		t.Fatalf("Write() outcome = %v, want ambiguous", res.Outcome)
	}
}

func TestWriterRetriesThenSucceeds(t *testing.T) {
	store := &stubStore{writeResults: []stubResult{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{rows: []Row{{"TELEFONO": "1"}}},
	}}
	w := NewWriter(store, nil, WriterOptions{MaxRetries: 3, RetryDelay: time.Millisecond})

	res, err := w.Write(context.Background(), "CONTACTOS", []Row{{"TELEFONO": "1"}}, ActionAdd)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if store.writeCalls != 3 {
		t.Fatalf("write calls = %d, want 3", store.writeCalls)
	}
	if res.Outcome != OutcomeConfirmed {
		t.Fatalf("Write() outcome = %v, want confirmed", res.Outcome)
	}
}

func TestWriterPropagatesFinalError(t *testing.T) {
	boom := errors.New("boom")
	store := &stubStore{writeResults: []stubResult{{err: boom}}}
	w := NewWriter(store, nil, WriterOptions{MaxRetries: 2, RetryDelay: time.Millisecond})

	res, err := w.Write(context.Background(), "CONTACTOS", []Row{{"TELEFONO": "1"}}, ActionAdd)
	if !errors.Is(err, boom) {
		t.Fatalf("Write() error = %v, want wrapped %v", err, boom)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Write() outcome = %v, want failed", res.Outcome)
	}
	if store.writeCalls != 2 {
		t.Fatalf("write calls = %d, want 2", store.writeCalls)
	}
}

func TestReconcileFindsRowByKey(t *testing.T) {
	store := &stubStore{readRows: []Row{
		{"TELEFONO": "1", "NOMBRE": "Ana"},
		{"TELEFONO": "2", "NOMBRE": "Luis"},
	}}
	w := NewWriter(store, nil, WriterOptions{})

	row, ok, err := w.Reconcile(context.Background(), "CONTACTOS", "TELEFONO", "2")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !ok || row["NOMBRE"] != "Luis" {
		t.Fatalf("Reconcile() = %v, %v, want Luis row", row, ok)
	}

	_, ok, err = w.Reconcile(context.Background(), "CONTACTOS", "TELEFONO", "99")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if ok {
		t.Fatal("Reconcile() found a row for a key that was never written")
	}
}
