// Package tablehttp implements store.RecordStore against the REST API of the
// backing tabular-record service.
package tablehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/geogismaps/geogrid/internal/observability"
	"github.com/geogismaps/geogrid/internal/store"
)

// page size used when the caller asks for the whole table
const defaultPageSize = 500

var _ store.RecordStore = (*Client)(nil)

type Client struct {
	logger *slog.Logger
	client *http.Client
	base   *url.URL
	token  string
}

func New(logger *slog.Logger, client *http.Client, baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{logger: logger, client: client, base: u, token: token}, nil
}

func (c *Client) endpoint(parts ...string) *url.URL {
	u := *c.base
	u.Path, _ = url.JoinPath(u.Path, parts...)
	return &u
}

func (c *Client) do(ctx context.Context, op, method string, u *url.URL, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	observability.ObserveStoreOp(op, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: do request: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

type recordsPage struct {
	Records []store.Record `json:"records"`
}

type recordEnvelope struct {
	Record store.Record `json:"record"`
}

type fieldsPage struct {
	Fields []store.FieldSchema `json:"fields"`
}

func listQuery(opts store.ListOptions, limit, offset int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if opts.Filter != "" {
		q.Set("filter", opts.Filter)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	return q
}

// ListRecords fetches one page when opts.Limit is set, otherwise pages
// through the whole table.
func (c *Client) ListRecords(ctx context.Context, tableID string, opts store.ListOptions) ([]store.Record, error) {
	if opts.Limit > 0 {
		u := c.endpoint("api", "tables", tableID, "records")
		u.RawQuery = listQuery(opts, opts.Limit, opts.Offset).Encode()
		var page recordsPage
		if err := c.do(ctx, "list_records", http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		return page.Records, nil
	}

	var all []store.Record
	offset := opts.Offset
	for {
		u := c.endpoint("api", "tables", tableID, "records")
		u.RawQuery = listQuery(opts, defaultPageSize, offset).Encode()
		var page recordsPage
		if err := c.do(ctx, "list_records", http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Records...)
		if len(page.Records) < defaultPageSize {
			break
		}
		offset += len(page.Records)
	}
	c.logger.Debug("listed records", "table", tableID, "count", len(all))
	return all, nil
}

func (c *Client) CreateRecord(ctx context.Context, tableID string, fields map[string]any) (store.Record, error) {
	u := c.endpoint("api", "tables", tableID, "records")
	var env recordEnvelope
	body := map[string]any{"fields": fields}
	if err := c.do(ctx, "create_record", http.MethodPost, u, body, &env); err != nil {
		return store.Record{}, err
	}
	return env.Record, nil
}

func (c *Client) UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) (store.Record, error) {
	u := c.endpoint("api", "tables", tableID, "records", recordID)
	var env recordEnvelope
	body := map[string]any{"fields": fields}
	if err := c.do(ctx, "update_record", http.MethodPatch, u, body, &env); err != nil {
		return store.Record{}, err
	}
	return env.Record, nil
}

func (c *Client) DeleteRecord(ctx context.Context, tableID, recordID string) error {
	u := c.endpoint("api", "tables", tableID, "records", recordID)
	return c.do(ctx, "delete_record", http.MethodDelete, u, nil, nil)
}

func (c *Client) ListFields(ctx context.Context, tableID string) ([]store.FieldSchema, error) {
	u := c.endpoint("api", "tables", tableID, "fields")
	var page fieldsPage
	if err := c.do(ctx, "list_fields", http.MethodGet, u, nil, &page); err != nil {
		return nil, err
	}
	return page.Fields, nil
}
