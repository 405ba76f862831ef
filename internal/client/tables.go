package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StatusError is a non-2xx answer from the table API. Body holds the raw
// response, which for 412 is the current server row.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: server returned %d: %s", e.Method, e.Path, e.Code, bytes.TrimSpace(e.Body))
}

// Fatal reports whether the error stops the whole sync rather than a single
// row: unknown identity or a broken server.
func (e *StatusError) Fatal() bool {
	return e.Code == http.StatusUnauthorized || e.Code >= http.StatusInternalServerError
}

type page struct {
	Items []json.RawMessage `json:"items"`
	Count int               `json:"count"`
}

// Hint mirrors the server's /sync/hint answer.
type Hint struct {
	ChangedAt  *time.Time `json:"changedAt"`
	ServerTime time.Time  `json:"serverTime"`
}

// TableClient talks to the /tables endpoints as the current user.
type TableClient struct {
	base string
	http *http.Client
}

// NewTableClient sends every request with a bearer token holding the user
// name returned by user at request time.
func NewTableClient(endpoint string, user func() string, timeout time.Duration, log *zap.Logger) *TableClient {
	return &TableClient{
		base: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &bearerTransport{
				user: user,
				next: &loggingTransport{next: http.DefaultTransport, log: log},
			},
		},
	}
}

func (c *TableClient) do(ctx context.Context, method, path string, query url.Values, body any, header http.Header) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: out}
	}
	return out, nil
}

// List reads one page of table rows changed after since, tombstones included.
func (c *TableClient) List(ctx context.Context, table string, since time.Time, skip, top int) ([]json.RawMessage, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("updatedSince", since.UTC().Format(time.RFC3339Nano))
	}
	q.Set("includeDeleted", "true")
	q.Set("skip", strconv.Itoa(skip))
	q.Set("top", strconv.Itoa(top))

	raw, err := c.do(ctx, http.MethodGet, "/tables/"+table, q, nil, nil)
	if err != nil {
		return nil, err
	}
	var p page
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s page: %w", table, err)
	}
	return p.Items, nil
}

func (c *TableClient) Insert(ctx context.Context, table string, item json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	h := http.Header{}
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}
	return c.do(ctx, http.MethodPost, "/tables/"+table, nil, item, h)
}

func (c *TableClient) Replace(ctx context.Context, table, id, version string, item json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "/tables/"+table+"/"+url.PathEscape(id), nil, item, ifMatch(version))
}

func (c *TableClient) Delete(ctx context.Context, table, id, version string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tables/"+table+"/"+url.PathEscape(id), nil, nil, ifMatch(version))
	return err
}

func (c *TableClient) SyncHint(ctx context.Context) (Hint, error) {
	var h Hint
	raw, err := c.do(ctx, http.MethodGet, "/sync/hint", nil, nil, nil)
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(raw, &h)
	return h, err
}

func ifMatch(version string) http.Header {
	h := http.Header{}
	if version != "" {
		h.Set("If-Match", strconv.Quote(version))
	}
	return h
}

type bearerTransport struct {
	user func() string
	next http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if name := t.user(); name != "" {
		r.Header.Set("Authorization", "Bearer "+name)
	}
	return t.next.RoundTrip(r)
}

// loggingTransport dumps requests and responses at debug level.
type loggingTransport struct {
	next http.RoundTripper
	log  *zap.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if ce := t.log.Check(zap.DebugLevel, "[HTTP] >>>"); ce != nil {
		dump, _ := httputil.DumpRequestOut(req, true)
		ce.Write(zap.String("method", req.Method), zap.String("url", req.URL.String()), zap.ByteString("dump", dump))
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.log.Warn("[HTTP] request failed",
			zap.String("method", req.Method), zap.String("url", req.URL.String()), zap.Error(err))
		return nil, err
	}

	if ce := t.log.Check(zap.DebugLevel, "[HTTP] <<<"); ce != nil {
		dump, _ := httputil.DumpResponse(resp, true)
		ce.Write(zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start)), zap.ByteString("dump", dump))
	}
	return resp, nil
}
