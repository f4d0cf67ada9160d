// Package remote implements the typed HTTP surface this store needs
// against a CouchDB-compatible document database: single-document get,
// bulk existence/fetch via _all_docs, bulk write via _bulk_docs, and the
// two _changes feed modes (paged and continuous).
//
// An approximate, cost-aware cache (github.com/dgraph-io/ristretto) sits
// in front of the existence probe: once a document id is known to exist
// remotely, a second put of the same content can skip re-probing it.
// Being probabilistic is fine here — a false miss only costs a redundant
// probe, never a correctness problem, which is exactly the slack
// ristretto's admission policy needs to be useful instead of a liability.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"

	"github.com/docsync/docsync/internal/errs"
	"github.com/docsync/docsync/pkg/model"
)

const existenceCacheTTL = 10 * time.Minute

// Config configures an Adapter against one remote database.
type Config struct {
	URL      string
	Username string
	Password string
	Database string

	// Client overrides the HTTP client used for all requests. Nil selects
	// http.DefaultClient's transport characteristics via a fresh *http.Client.
	Client *http.Client

	Logger *logrus.Logger
}

func (c *Config) setDefaults() error {
	if c.URL == "" || c.Database == "" {
		return fmt.Errorf("remote: %w: url and database are required", errs.ErrConfig)
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return nil
}

// Adapter is the typed HTTP client against one remote database.
type Adapter struct {
	cfg       Config
	baseURL   string
	existence *ristretto.Cache
	log       *logrus.Entry
}

// New constructs an Adapter. It owns no background goroutines; each
// request is issued on the caller's goroutine bound to ctx.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	existence, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100000,
		MaxCost:     10000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: build existence cache: %w", err)
	}

	base := strings.TrimRight(cfg.URL, "/") + "/" + strings.Trim(cfg.Database, "/")
	return &Adapter{
		cfg:       cfg,
		baseURL:   base,
		existence: existence,
		log:       cfg.Logger.WithField("component", "remote"),
	}, nil
}

// Close releases the existence cache's background goroutines.
func (a *Adapter) Close() {
	a.existence.Close()
}

func (a *Adapter) docURL(id model.DocumentID) string {
	return a.baseURL + "/" + string(id)
}

func (a *Adapter) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (a *Adapter) do(req *http.Request) (*http.Response, error) {
	resp, err := a.cfg.Client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("remote: %w: %v", errs.ErrAbort, ctxErr)
		}
		return nil, fmt.Errorf("remote: %w: %v", errs.ErrTransient, err)
	}
	return resp, nil
}

func readAllAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// statusError builds an errs.RemoteError (or ErrAuth/ErrConflict where
// narrower) for a non-2xx response, draining the body for diagnostics.
func statusError(resp *http.Response, body []byte) error {
	re := &errs.RemoteError{Status: resp.StatusCode, Body: string(body)}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("remote: %w", errs.ErrAuth)
	}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("remote: %w", errs.ErrConflict)
	}
	return re
}

// RawDoc is the envelope-agnostic JSON shape returned by Get and the
// constituents of bulk operations; callers unmarshal Doc further once
// they know the type discriminant.
type RawDoc struct {
	ID  model.DocumentID `json:"_id"`
	Rev string           `json:"_rev,omitempty"`
	Doc json.RawMessage  `json:"-"`
}

// Get fetches a single document by id. A 404 response is reported as
// errs.ErrNotPresent, not an error callers need to special-case by status.
func (a *Adapter) Get(ctx context.Context, id model.DocumentID) (json.RawMessage, string, error) {
	req, err := a.newRequest(ctx, http.MethodGet, a.docURL(id), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, "", err
	}
	body, err := readAllAndClose(resp)
	if err != nil {
		return nil, "", fmt.Errorf("remote: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("remote: get %s: %w", id, errs.ErrNotPresent)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", statusError(resp, body)
	}

	var envelope struct {
		Rev string `json:"_rev"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, "", fmt.Errorf("remote: decode %s: %w", id, err)
	}
	a.existence.SetWithTTL(string(id), struct{}{}, 1, existenceCacheTTL)
	return body, envelope.Rev, nil
}

// allDocsRow mirrors CouchDB's _all_docs row shape.
type allDocsRow struct {
	ID    model.DocumentID `json:"id"`
	Error string           `json:"error,omitempty"`
	Value struct {
		Rev string `json:"rev"`
	} `json:"value"`
	Doc json.RawMessage `json:"doc,omitempty"`
}

// ExistenceResult reports, per requested id, whether it is present and,
// if includeDocs was requested, its raw body.
type ExistenceResult struct {
	Present bool
	Rev     string
	Doc     json.RawMessage
}

// AllDocs probes keys for existence (and optionally fetches their bodies)
// via POST _all_docs. Results are returned in a map keyed by id since the
// server response order is not guaranteed to match the request order for
// every CouchDB-compatible backend.
func (a *Adapter) AllDocs(ctx context.Context, keys []model.DocumentID, includeDocs bool) (map[model.DocumentID]ExistenceResult, error) {
	out := make(map[model.DocumentID]ExistenceResult, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	var toQuery []model.DocumentID
	for _, k := range keys {
		if !includeDocs {
			if _, hit := a.existence.Get(string(k)); hit {
				out[k] = ExistenceResult{Present: true}
				continue
			}
		}
		toQuery = append(toQuery, k)
	}
	if len(toQuery) == 0 {
		return out, nil
	}

	reqBody, err := json.Marshal(struct {
		Keys []model.DocumentID `json:"keys"`
	}{Keys: toQuery})
	if err != nil {
		return nil, fmt.Errorf("remote: encode _all_docs request: %w", err)
	}

	url := a.baseURL + "/_all_docs?include_docs=" + strconv.FormatBool(includeDocs)
	req, err := a.newRequest(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	body, err := readAllAndClose(resp)
	if err != nil {
		return nil, fmt.Errorf("remote: read _all_docs response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, body)
	}

	var parsed struct {
		Rows []allDocsRow `json:"rows"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("remote: decode _all_docs response: %w", err)
	}

	for _, row := range parsed.Rows {
		if row.Error != "" {
			out[row.ID] = ExistenceResult{Present: false}
			continue
		}
		out[row.ID] = ExistenceResult{Present: true, Rev: row.Value.Rev, Doc: row.Doc}
		a.existence.SetWithTTL(string(row.ID), struct{}{}, 1, existenceCacheTTL)
	}
	return out, nil
}

// BulkResult mirrors one entry of _bulk_docs's response array.
type BulkResult struct {
	ID       model.DocumentID
	Rev      string
	OK       bool
	Conflict bool
	Error    string
}

// BulkDocs writes docs (each already JSON-marshaled, _id/_rev included)
// via POST _bulk_docs. A conflict entry is reported but never surfaced as
// a Go error from this method — content-addressed writes treat conflict
// as benign; callers decide whether a given conflict is fatal (metadata
// PUT) or expected (leaf upload of an already-present chunk).
func (a *Adapter) BulkDocs(ctx context.Context, docs []json.RawMessage) ([]BulkResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(struct {
		Docs []json.RawMessage `json:"docs"`
	}{Docs: docs})
	if err != nil {
		return nil, fmt.Errorf("remote: encode _bulk_docs request: %w", err)
	}

	req, err := a.newRequest(ctx, http.MethodPost, a.baseURL+"/_bulk_docs", reqBody)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	body, err := readAllAndClose(resp)
	if err != nil {
		return nil, fmt.Errorf("remote: read _bulk_docs response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, body)
	}

	var raw []struct {
		ID    model.DocumentID `json:"id"`
		Rev   string           `json:"rev,omitempty"`
		OK    bool             `json:"ok,omitempty"`
		Error string           `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("remote: decode _bulk_docs response: %w", err)
	}

	results := make([]BulkResult, 0, len(raw))
	for _, r := range raw {
		br := BulkResult{ID: r.ID, Rev: r.Rev, OK: r.OK, Error: r.Error}
		if r.Error == "conflict" {
			br.Conflict = true
		}
		if br.OK {
			a.existence.SetWithTTL(string(r.ID), struct{}{}, 1, existenceCacheTTL)
		}
		results = append(results, br)
	}
	return results, nil
}

// RangeRow is one row of a startkey/endkey _all_docs page.
type RangeRow struct {
	ID    model.DocumentID `json:"id"`
	Error string           `json:"error,omitempty"`
	Doc   json.RawMessage  `json:"doc,omitempty"`
}

// RangePage is a single page of a startkey/endkey _all_docs query.
type RangePage struct {
	Rows      []RangeRow
	TotalRows int
}

// RangeDocs pages through ids in [startKey, endKey) via GET _all_docs
// with startkey/endkey/skip/limit, used by enumeration to walk one of
// the disjoint key ranges that exclude chunk and reserved-id prefixes.
func (a *Adapter) RangeDocs(ctx context.Context, startKey, endKey string, skip, limit int) (*RangePage, error) {
	startJSON, err := json.Marshal(startKey)
	if err != nil {
		return nil, fmt.Errorf("remote: encode startkey: %w", err)
	}
	endJSON, err := json.Marshal(endKey)
	if err != nil {
		return nil, fmt.Errorf("remote: encode endkey: %w", err)
	}

	reqURL := fmt.Sprintf("%s/_all_docs?include_docs=true&startkey=%s&endkey=%s&skip=%d&limit=%d",
		a.baseURL, url.QueryEscape(string(startJSON)), url.QueryEscape(string(endJSON)), skip, limit)
	req, err := a.newRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	body, err := readAllAndClose(resp)
	if err != nil {
		return nil, fmt.Errorf("remote: read _all_docs response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, body)
	}

	var parsed struct {
		Rows      []RangeRow `json:"rows"`
		TotalRows int        `json:"total_rows"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("remote: decode _all_docs response: %w", err)
	}
	return &RangePage{Rows: parsed.Rows, TotalRows: parsed.TotalRows}, nil
}

// Put writes a single document with an explicit id (metadata PUT path,
// where the caller must control the exact id rather than letting the
// server assign one).
func (a *Adapter) Put(ctx context.Context, id model.DocumentID, doc json.RawMessage) (rev string, conflict bool, err error) {
	req, err := a.newRequest(ctx, http.MethodPut, a.docURL(id), doc)
	if err != nil {
		return "", false, err
	}
	resp, err := a.do(req)
	if err != nil {
		return "", false, err
	}
	body, err := readAllAndClose(resp)
	if err != nil {
		return "", false, fmt.Errorf("remote: read put response: %w", err)
	}

	if resp.StatusCode == http.StatusConflict {
		return "", true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, statusError(resp, body)
	}

	var ack struct {
		Rev string `json:"rev"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return "", false, fmt.Errorf("remote: decode put response: %w", err)
	}
	return ack.Rev, false, nil
}

// ChangeRow is one parsed entry of a _changes feed, either paged or
// continuous.
type ChangeRow struct {
	Seq     string           `json:"seq"`
	ID      model.DocumentID `json:"id"`
	Deleted bool             `json:"deleted,omitempty"`
	Doc     json.RawMessage  `json:"doc,omitempty"`
}

// ChangesPage is the decoded body of a feed=normal _changes response.
type ChangesPage struct {
	Results []ChangeRow `json:"results"`
	LastSeq string      `json:"last_seq"`
	Pending int         `json:"pending"`
}

func (a *Adapter) changesURL(extra string) string {
	return a.baseURL + "/_changes?style=all_docs&include_docs=true&filter=replicate/pull" + extra
}

// ChangesPaged issues a single feed=normal page starting at since, with
// the given page size.
func (a *Adapter) ChangesPaged(ctx context.Context, since string, limit int) (*ChangesPage, error) {
	url := a.changesURL(fmt.Sprintf("&feed=normal&since=%s&limit=%d", since, limit))
	req, err := a.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	body, err := readAllAndClose(resp)
	if err != nil {
		return nil, fmt.Errorf("remote: read _changes response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp, body)
	}

	var page ChangesPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("remote: decode _changes response: %w", err)
	}
	return &page, nil
}

// ContinuousStream is an open line-delimited _changes=continuous response.
// Callers read with NextLine until io.EOF or an error, then must Close.
type ContinuousStream struct {
	resp   *http.Response
	reader *bufio.Reader
}

// ChangesContinuous opens a feed=continuous request starting at since.
// The returned stream's lifetime is bound to ctx: cancelling ctx
// unblocks a pending NextLine with ctx.Err() surfaced as errs.ErrAbort.
func (a *Adapter) ChangesContinuous(ctx context.Context, since string, heartbeatMS, timeoutMS int) (*ContinuousStream, error) {
	url := a.changesURL(fmt.Sprintf("&feed=continuous&since=%s&heartbeat=%d&timeout=%d", since, heartbeatMS, timeoutMS))
	req, err := a.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readAllAndClose(resp)
		return nil, statusError(resp, body)
	}
	return &ContinuousStream{resp: resp, reader: bufio.NewReader(resp.Body)}, nil
}

// NextLine returns the next non-empty line of the stream, or io.EOF when
// the server closes the connection cleanly. Heartbeat newlines (empty
// lines CouchDB sends to keep the connection alive) are skipped silently.
func (s *ContinuousStream) NextLine() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed, nil
		}
		if err != nil {
			if err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("remote: %w: %v", errs.ErrTransient, err)
		}
	}
}

// Close releases the underlying HTTP response body.
func (s *ContinuousStream) Close() error {
	return s.resp.Body.Close()
}
