package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// ElasticRequest is one request received by an ElasticServer.
type ElasticRequest struct {
	Method   string
	Path     string
	RawQuery string
	Body     string
}

// ElasticServer is an in-process fake of the search-engine scroll API:
//
//	GET    /_aliases
//	GET    /{index}/_search?scroll=..[&search_type=scan]
//	GET    /_search/scroll?scroll=..   ({"scroll_id":token} or bare token)
//	DELETE /_search/scroll             ({"scroll_id":[token]} or bare token)
//
// Scroll tokens rotate on every page, and a stale token is rejected with
// 404, so callers that reuse the original token fail loudly. Only sessions
// opened with search_type=scan accept a bare token; the others answer a
// non-JSON body with 400, as clusters from 6.x on do.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ElasticServer struct {
	*httptest.Server

	mu       sync.Mutex
	indexes  map[string][]json.RawMessage
	failures map[string]int
	sessions map[string]*scrollSession
	seq      int
	requests []ElasticRequest
	released []string

	// TotalAsObject renders hits.total as {"value":n,"relation":"eq"}.
	TotalAsObject bool
}

type scrollSession struct {
	index  string
	offset int
	size   int
	scan   bool
}

// NewElasticServer starts a fake search engine that is closed when t ends.
func NewElasticServer(t testing.TB) *ElasticServer {
	t.Helper()
	s := &ElasticServer{
		indexes:  make(map[string][]json.RawMessage),
		failures: make(map[string]int),
		sessions: make(map[string]*scrollSession),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Server.Close)
	return s
}

// AddIndex creates index holding hits, in order.
func (s *ElasticServer) AddIndex(index string, hits ...json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[index] = append(s.indexes[index], hits...)
}

// GenerateHits creates index with n hits shaped like
// {"_index":index,"_id":"i","_source":{"n":i}}.
func (s *ElasticServer) GenerateHits(index string, n int) {
	hits := make([]json.RawMessage, n)
	for i := 0; i < n; i++ {
		hits[i] = json.RawMessage(fmt.Sprintf(`{"_index":%q,"_id":"%d","_source":{"n":%d}}`, index, i, i))
	}
	s.AddIndex(index, hits...)
}

// FailIndex makes every search against index answer with status.
func (s *ElasticServer) FailIndex(index string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[index] = status
}

// Requests returns a copy of the received requests in order.
func (s *ElasticServer) Requests() []ElasticRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ElasticRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Released returns the tokens passed to DELETE /_search/scroll.
func (s *ElasticServer) Released() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.released))
	copy(out, s.released)
	return out
}

// OpenSessions returns the number of scroll sessions not yet released.
func (s *ElasticServer) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *ElasticServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, ElasticRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Body:     string(body),
	})

	switch {
	case r.URL.Path == "/_aliases" && r.Method == http.MethodGet:
		s.aliases(w)
	case r.URL.Path == "/_search/scroll" && r.Method == http.MethodGet:
		s.scroll(w, body)
	case r.URL.Path == "/_search/scroll" && r.Method == http.MethodDelete:
		s.release(w, body)
	case strings.HasSuffix(r.URL.Path, "/_search") && r.Method == http.MethodGet:
		index := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/_search")
		s.search(w, r, index, body)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no handler for " + r.Method + " " + r.URL.Path})
	}
}

func (s *ElasticServer) aliases(w http.ResponseWriter) {
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `%q:{"aliases":{}}`, name)
	}
	b.WriteByte('}')
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (s *ElasticServer) search(w http.ResponseWriter, r *http.Request, index string, body []byte) {
	if status, ok := s.failures[index]; ok {
		writeJSON(w, status, map[string]string{"error": "forced failure"})
		return
	}
	hits, ok := s.indexes[index]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "IndexMissingException[[" + index + "] missing]"})
		return
	}
	if r.URL.Query().Get("scroll") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scroll parameter required"})
		return
	}

	var req struct {
		Size int `json:"size"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.Size <= 0 {
		req.Size = 10
	}

	sess := &scrollSession{index: index, size: req.Size, scan: r.URL.Query().Get("search_type") == "scan"}
	var page []json.RawMessage
	if !sess.scan {
		page = sess.next(hits)
	}
	s.respond(w, sess, len(hits), page)
}

// scrollID extracts the token from a scroll or release body. The JSON form
// holds a string, or a list of strings of which the first is used.
func scrollID(body []byte) (token string, isJSON bool, err error) {
	raw := strings.TrimSpace(string(body))
	if !strings.HasPrefix(raw, "{") {
		return raw, false, nil
	}
	var req struct {
		ScrollID json.RawMessage `json:"scroll_id"`
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return "", true, err
	}
	if err := json.Unmarshal(req.ScrollID, &token); err == nil {
		return token, true, nil
	}
	var ids []string
	if err := json.Unmarshal(req.ScrollID, &ids); err != nil {
		return "", true, fmt.Errorf("scroll_id: %w", err)
	}
	if len(ids) == 0 {
		return "", true, fmt.Errorf("scroll_id: empty list")
	}
	return ids[0], true, nil
}

// session resolves the body of a scroll or release request, writing the
// error response itself when it fails.
func (s *ElasticServer) session(w http.ResponseWriter, body []byte) (string, *scrollSession, bool) {
	token, isJSON, err := scrollID(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse request body: " + err.Error()})
		return token, nil, false
	}
	sess, ok := s.sessions[token]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "SearchContextMissingException[" + token + "]"})
		return token, nil, false
	}
	if !isJSON && !sess.scan {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse request body: not a JSON object"})
		return token, nil, false
	}
	return token, sess, true
}

func (s *ElasticServer) scroll(w http.ResponseWriter, body []byte) {
	token, sess, ok := s.session(w, body)
	if !ok {
		return
	}
	delete(s.sessions, token)
	hits := s.indexes[sess.index]
	s.respond(w, sess, len(hits), sess.next(hits))
}

func (s *ElasticServer) release(w http.ResponseWriter, body []byte) {
	token, _, ok := s.session(w, body)
	s.released = append(s.released, token)
	if !ok {
		return
	}
	delete(s.sessions, token)
	writeJSON(w, http.StatusOK, map[string]any{"succeeded": true})
}

func (s *ElasticServer) respond(w http.ResponseWriter, sess *scrollSession, total int, page []json.RawMessage) {
	s.seq++
	token := "scroll-" + strconv.Itoa(s.seq)
	s.sessions[token] = sess

	var totalJSON string
	if s.TotalAsObject {
		totalJSON = fmt.Sprintf(`{"value":%d,"relation":"eq"}`, total)
	} else {
		totalJSON = strconv.Itoa(total)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `{"_scroll_id":%q,"took":1,"timed_out":false,"hits":{"total":%s,"hits":[`, token, totalJSON)
	for i, hit := range page {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(hit)
	}
	b.WriteString("]}}")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (sess *scrollSession) next(hits []json.RawMessage) []json.RawMessage {
	if sess.offset >= len(hits) {
		return nil
	}
	end := min(sess.offset+sess.size, len(hits))
	page := hits[sess.offset:end]
	sess.offset = end
	return page
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
