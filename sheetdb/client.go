// Package sheetdb is the client for the external tabular store: flat rows of
// column name to scalar value, addressed by table, mutated with Add or Edit
// actions. The remote API is retry-prone and sometimes answers a successful
// write with an empty body, so writes go through Writer, which classifies
// every response instead of trusting it.
package sheetdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Row is one record of the store: column name to scalar value. Dates travel
// as ISO yyyy-mm-dd, boolean-like columns as the literals "TRUE"/"FALSE".
type Row map[string]string

type Action string

const (
	ActionAdd  Action = "Add"
	ActionEdit Action = "Edit"
)

type Config struct {
	BaseURL   string
	AppID     string
	AccessKey string

	HTTPTimeout time.Duration
}

type Client struct {
	baseURL   string
	appID     string
	accessKey string
	http      *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("sheetdb: base url is required")
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, fmt.Errorf("sheetdb: app id is required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		appID:     strings.TrimSpace(cfg.AppID),
		accessKey: strings.TrimSpace(cfg.AccessKey),
		http:      &http.Client{Timeout: timeout},
	}, nil
}

type writeRequest struct {
	Action     Action         `json:"Action"`
	Properties map[string]any `json:"Properties,omitempty"`
	Rows       []Row          `json:"Rows"`
}

// Write posts rows to a table. The returned rows are nil when the remote
// answered with an empty or non-JSON body; callers that need to distinguish
// that case from a confirmed write use Writer.
func (c *Client) Write(ctx context.Context, table string, rows []Row, action Action) ([]Row, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("sheetdb: table is required")
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheetdb: no rows to write")
	}
	body, err := json.Marshal(writeRequest{Action: action, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("sheetdb: encode rows: %w", err)
	}

	data, err := c.post(ctx, table, body)
	if err != nil {
		return nil, err
	}
	return decodeRows(data)
}

// Read fetches every row of a table.
func (c *Client) Read(ctx context.Context, table string) ([]Row, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("sheetdb: table is required")
	}
	body, err := json.Marshal(writeRequest{Action: "Find", Rows: []Row{}})
	if err != nil {
		return nil, fmt.Errorf("sheetdb: encode request: %w", err)
	}
	data, err := c.post(ctx, table, body)
	if err != nil {
		return nil, err
	}
	parsed, err := decodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("sheetdb: read %s: %w", table, err)
	}
	return parsed, nil
}

func (c *Client) post(ctx context.Context, table string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v2/apps/%s/tables/%s/Action", c.baseURL, c.appID, table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sheetdb: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessKey != "" {
		req.Header.Set("ApplicationAccessKey", c.accessKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheetdb: post %s: %w", table, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("sheetdb: read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("sheetdb: %s returned status %d: %s", table, res.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

// decodeRows tolerates the remote's three success shapes: a JSON row array, a
// single JSON row object, or an empty/non-JSON body (nil rows, no error).
func decodeRows(data []byte) ([]Row, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var rows []Row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("decode row list: %w", err)
		}
		return rows, nil
	case '{':
		var envelope struct {
			Rows []Row `json:"Rows"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Rows != nil {
			return envelope.Rows, nil
		}
		var row Row
		if err := json.Unmarshal(trimmed, &row); err != nil {
			return nil, fmt.Errorf("decode row object: %w", err)
		}
		return []Row{row}, nil
	default:
		// Non-JSON success body: the remote outcome is unknown.
		return nil, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
