package sheetdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, AppID: "app-1", AccessKey: "key-1"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestWriteParsesRowList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("ApplicationAccessKey"); got != "key-1" {
			t.Errorf("access key header = %q, want key-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"TELEFONO":"573001112233","NOMBRE":"Maria","_RowNumber":"12"}]`))
	})

	rows, err := c.Write(context.Background(), "CONTACTOS", []Row{{"TELEFONO": "573001112233"}}, ActionEdit)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(rows) != 1 || rows[0]["_RowNumber"] != "12" {
		t.Fatalf("Write() rows = %v, want one row with _RowNumber 12", rows)
	}
}

func TestWriteEmptyBodyIsAmbiguousNotError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rows, err := c.Write(context.Background(), "CONTACTOS", []Row{{"TELEFONO": "1"}}, ActionAdd)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rows != nil {
		t.Fatalf("Write() rows = %v, want nil for empty body", rows)
	}
}

func TestWriteNonJSONBodyIsAmbiguousNotError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	rows, err := c.Write(context.Background(), "CONTACTOS", []Row{{"TELEFONO": "1"}}, ActionAdd)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rows != nil {
		t.Fatalf("Write() rows = %v, want nil for non-JSON body", rows)
	}
}

func TestWriteServerErrorFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend unavailable", http.StatusBadGateway)
	})

	if _, err := c.Write(context.Background(), "CONTACTOS", []Row{{"TELEFONO": "1"}}, ActionAdd); err == nil {
		t.Fatal("Write() error = nil, want status error")
	}
}

func TestReadRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"TELEFONO":"1","NOMBRE":"Ana"},{"TELEFONO":"2","NOMBRE":"Luis"}]`))
	})

	rows, err := c.Read(context.Background(), "CONTACTOS")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(rows) != 2 || rows[1]["NOMBRE"] != "Luis" {
		t.Fatalf("Read() rows = %v, want two rows", rows)
	}
}
