// Package remotetest provides an in-process fake CouchDB-compatible
// server for exercising internal/remote and the Store Core without a
// live database, built on net/http/httptest the way a reference fake
// implementation stands in for a real collaborator in integration tests.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/docsync/docsync/pkg/model"
)

// Server is a minimal single-database CouchDB stand-in: GET /{id},
// POST /_all_docs, POST /_bulk_docs, PUT /{id}, GET /_changes (normal and
// continuous). Revisions are monotonically increasing integers rendered
// as "N-x"; there is no real MVCC history, only current-revision tracking,
// which is all the store's tests need.
type Server struct {
	mu       sync.Mutex
	docs     map[model.DocumentID]json.RawMessage
	revs     map[model.DocumentID]int
	seq      int
	log      []changeLogEntry
	Username string
	Password string

	httpServer *httptest.Server
}

type changeLogEntry struct {
	seq int
	id  model.DocumentID
}

// New starts a Server listening on a loopback address. Call Close when done.
func New(username, password string) *Server {
	s := &Server{
		docs:     make(map[model.DocumentID]json.RawMessage),
		revs:     make(map[model.DocumentID]int),
		Username: username,
		Password: password,
	}
	s.httpServer = httptest.NewServer(requireBasicAuth(username, password, http.HandlerFunc(s.route)))
	return s
}

// route dispatches on the request path with its leading database segment
// stripped, the way a real CouchDB server's /{db}/... routes do. This
// fake is told nothing about the database name a caller configured, so
// it treats whatever the first path segment is as that name and routes
// on the rest.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	_, rest := splitDBSegment(r.URL.Path)
	switch rest {
	case "_all_docs":
		s.handleAllDocs(w, r)
	case "_bulk_docs":
		s.handleBulkDocs(w, r)
	case "_changes":
		s.handleChanges(w, r)
	default:
		s.handleDoc(w, r, model.DocumentID(rest))
	}
}

func splitDBSegment(path string) (db, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", parts[0]
}

// URL is the base URL of the server (without the database segment; this
// fake treats the whole server as one database for simplicity).
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

func requireBasicAuth(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != username || p != password {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) nextRev(id model.DocumentID) string {
	s.revs[id]++
	return fmt.Sprintf("%d-%s", s.revs[id], strings.Repeat("x", 1))
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request, id model.DocumentID) {
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		doc, ok := s.docs[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, doc)

	case http.MethodPut:
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
			return
		}
		existingRev, hasExisting := s.revs[id]
		givenRev, _ := body["_rev"].(string)
		if hasExisting {
			wantRev := fmt.Sprintf("%d-x", existingRev)
			if givenRev != wantRev {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
				return
			}
		} else if givenRev != "" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
			return
		}

		rev := s.nextRev(id)
		body["_id"] = string(id)
		body["_rev"] = rev
		raw, _ := json.Marshal(body)
		s.docs[id] = raw
		s.seq++
		s.log = append(s.log, changeLogEntry{seq: s.seq, id: id})

		writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "id": string(id), "rev": rev})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	}
}

type allDocsRow struct {
	ID    model.DocumentID `json:"id"`
	Error string           `json:"error,omitempty"`
	Value struct {
		Rev string `json:"rev"`
	} `json:"value"`
	Doc json.RawMessage `json:"doc,omitempty"`
}

func (s *Server) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.handleAllDocsRange(w, r)
		return
	}

	var req struct {
		Keys []model.DocumentID `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}
	includeDocs := r.URL.Query().Get("include_docs") == "true"

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]allDocsRow, 0, len(req.Keys))
	for _, k := range req.Keys {
		doc, ok := s.docs[k]
		if !ok {
			rows = append(rows, allDocsRow{ID: k, Error: "not_found"})
			continue
		}
		rv := allDocsRow{ID: k}
		rv.Value.Rev = fmt.Sprintf("%d-x", s.revs[k])
		if includeDocs {
			rv.Doc = doc
		}
		rows = append(rows, rv)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": rows, "total_rows": len(s.docs)})
}

// handleAllDocsRange serves GET _all_docs?startkey=...&endkey=...&skip=
// &limit= requests, JSON-decoding the quoted startkey/endkey query
// parameters the same way a real CouchDB server does.
func (s *Server) handleAllDocsRange(w http.ResponseWriter, r *http.Request) {
	var startKey, endKey string
	if v := r.URL.Query().Get("startkey"); v != "" {
		json.Unmarshal([]byte(v), &startKey)
	}
	if v := r.URL.Query().Get("endkey"); v != "" {
		json.Unmarshal([]byte(v), &endKey)
	}
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]model.DocumentID, 0, len(s.docs))
	for id := range s.docs {
		if string(id) >= startKey && string(id) < endKey {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if skip > len(ids) {
		skip = len(ids)
	}
	ids = ids[skip:]
	if limit < len(ids) {
		ids = ids[:limit]
	}

	rows := make([]allDocsRow, 0, len(ids))
	for _, id := range ids {
		rv := allDocsRow{ID: id}
		rv.Value.Rev = fmt.Sprintf("%d-x", s.revs[id])
		rv.Doc = s.docs[id]
		rows = append(rows, rv)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": rows, "total_rows": len(s.docs)})
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Docs []map[string]interface{} `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type result struct {
		ID    model.DocumentID `json:"id"`
		Rev   string           `json:"rev,omitempty"`
		OK    bool             `json:"ok,omitempty"`
		Error string           `json:"error,omitempty"`
	}

	results := make([]result, 0, len(req.Docs))
	for _, d := range req.Docs {
		idStr, _ := d["_id"].(string)
		id := model.DocumentID(idStr)
		if id == "" {
			results = append(results, result{Error: "bad_request"})
			continue
		}
		if _, exists := s.docs[id]; exists {
			results = append(results, result{ID: id, Error: "conflict"})
			continue
		}
		rev := s.nextRev(id)
		d["_id"] = idStr
		d["_rev"] = rev
		raw, _ := json.Marshal(d)
		s.docs[id] = raw
		s.seq++
		s.log = append(s.log, changeLogEntry{seq: s.seq, id: id})
		results = append(results, result{ID: id, Rev: rev, OK: true})
	}
	writeJSON(w, http.StatusCreated, results)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	feed := r.URL.Query().Get("feed")
	since := r.URL.Query().Get("since")
	sinceN, _ := strconv.Atoi(since)

	if feed == "continuous" {
		s.streamContinuous(w, sinceN)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 25
	}
	s.mu.Lock()
	var rows []map[string]interface{}
	lastSeq := sinceN
	for _, entry := range s.log {
		if entry.seq <= sinceN {
			continue
		}
		if len(rows) >= limit {
			break
		}
		doc := s.docs[entry.id]
		rows = append(rows, map[string]interface{}{
			"seq": strconv.Itoa(entry.seq),
			"id":  string(entry.id),
			"doc": json.RawMessage(doc),
		})
		lastSeq = entry.seq
	}
	pending := 0
	for _, entry := range s.log {
		if entry.seq > lastSeq {
			pending++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  rows,
		"last_seq": strconv.Itoa(lastSeq),
		"pending":  pending,
	})
}

func (s *Server) streamContinuous(w http.ResponseWriter, sinceN int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	s.mu.Lock()
	pending := make([]changeLogEntry, 0)
	for _, entry := range s.log {
		if entry.seq > sinceN {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	docsSnapshot := make(map[model.DocumentID]json.RawMessage, len(pending))
	for _, entry := range pending {
		docsSnapshot[entry.id] = s.docs[entry.id]
	}
	s.mu.Unlock()

	for _, entry := range pending {
		line := map[string]interface{}{
			"seq": strconv.Itoa(entry.seq),
			"id":  string(entry.id),
			"doc": json.RawMessage(docsSnapshot[entry.id]),
		}
		raw, _ := json.Marshal(line)
		w.Write(raw)
		w.Write([]byte("\n"))
		flusher.Flush()
	}
	// A real CouchDB connection stays open past the last known change,
	// waiting up to the requested timeout for new ones; this fake closes
	// immediately after draining what it has, which is enough for tests
	// that drive new writes from a second goroutine and expect a second
	// stream open to pick them up rather than a single never-ending one.
}

// Seed inserts a document directly, bypassing HTTP, for test setup.
func (s *Server) Seed(id model.DocumentID, doc json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revs[id]++
	s.docs[id] = doc
	s.seq++
	s.log = append(s.log, changeLogEntry{seq: s.seq, id: id})
}

// RawDoc returns the raw stored bytes for id, bypassing HTTP, so tests can
// assert on the exact wire shape a write produced.
func (s *Server) RawDoc(id model.DocumentID) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	return doc, ok
}
