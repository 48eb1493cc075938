// Package remotetest provides an in-memory list API server for tests.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

// Server is a fake revisioned list API backed by an httptest.Server.
//
// Writes must carry the current revision in X-Last-Known-Revision unless
// LenientRevision is set, mirroring the optimistic concurrency of the real
// service. Every accepted write increments the revision.
type Server struct {
	*httptest.Server

	Token string

	mu              sync.Mutex
	items           []task.Item
	revision        int64
	offline         bool
	failures        []int
	lenientRevision bool
	requests        map[string]int
	transform       func(task.Item) task.Item
}

// NewServer starts a server that accepts token.
func NewServer(token string) *Server {
	s := &Server{
		Token:    token,
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /list", s.handleList)
	mux.HandleFunc("PATCH /list", s.handlePatch)
	mux.HandleFunc("POST /list", s.handleCreate)
	mux.HandleFunc("GET /list/{id}", s.handleGet)
	mux.HandleFunc("PUT /list/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /list/{id}", s.handleDelete)

	s.Server = httptest.NewServer(s.middleware(mux))
	return s
}

// Seed replaces the server content and revision.
func (s *Server) Seed(items []task.Item, rev int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = cloneAll(items)
	s.revision = rev
}

// Items returns a copy of the server content.
func (s *Server) Items() []task.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.items)
}

// Revision returns the current server revision.
func (s *Server) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// SetOffline makes every request fail at the transport level.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// FailNext answers the next len(statuses) requests with the given statuses.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// SetLenientRevision disables the revision check on writes.
func (s *Server) SetLenientRevision(lenient bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lenientRevision = lenient
}

// SetTransform installs a function applied to every accepted element, to
// simulate server-assigned fields.
func (s *Server) SetTransform(fn func(task.Item) task.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform = fn
}

// Requests returns how many requests reached the handler for "METHOD /path"
// patterns such as "GET /list" or "PUT /list/{id}".
func (s *Server) Requests(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[pattern]
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		offline := s.offline
		status := 0
		if !offline && len(s.failures) > 0 {
			status = s.failures[0]
			s.failures = s.failures[1:]
		}
		s.requests[patternOf(r)]++
		s.mu.Unlock()

		if offline {
			hijackAndClose(w)
			return
		}
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, listBody{Status: "ok", List: cloneAll(s.items), Revision: s.revision})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(r.PathValue("id"))
	if i < 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, elementBody{Status: "ok", Element: s.items[i], Revision: s.revision})
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var body listBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.revisionOK(r) {
		http.Error(w, "unsynchronized data", http.StatusBadRequest)
		return
	}
	merged := make([]task.Item, 0, len(body.List))
	for _, it := range body.List {
		merged = append(merged, s.apply(it))
	}
	s.items = merged
	s.revision++
	writeJSON(w, listBody{Status: "ok", List: cloneAll(s.items), Revision: s.revision})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body elementBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.revisionOK(r) {
		http.Error(w, "unsynchronized data", http.StatusBadRequest)
		return
	}
	if s.find(body.Element.ID) >= 0 {
		http.Error(w, "duplicate id", http.StatusBadRequest)
		return
	}
	it := s.apply(body.Element)
	s.items = append(s.items, it)
	s.revision++
	writeJSON(w, elementBody{Status: "ok", Element: it, Revision: s.revision})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body elementBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.revisionOK(r) {
		http.Error(w, "unsynchronized data", http.StatusBadRequest)
		return
	}
	i := s.find(r.PathValue("id"))
	if i < 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	it := s.apply(body.Element)
	s.items[i] = it
	s.revision++
	writeJSON(w, elementBody{Status: "ok", Element: it, Revision: s.revision})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.revisionOK(r) {
		http.Error(w, "unsynchronized data", http.StatusBadRequest)
		return
	}
	i := s.find(r.PathValue("id"))
	if i < 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	removed := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.revision++
	writeJSON(w, elementBody{Status: "ok", Element: removed, Revision: s.revision})
}

// The caller holds mu.
func (s *Server) revisionOK(r *http.Request) bool {
	if s.lenientRevision {
		return true
	}
	rev, err := strconv.ParseInt(r.Header.Get("X-Last-Known-Revision"), 10, 64)
	return err == nil && rev == s.revision
}

// The caller holds mu.
func (s *Server) find(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// The caller holds mu.
func (s *Server) apply(it task.Item) task.Item {
	if s.transform != nil {
		return s.transform(it.Clone())
	}
	return it.Clone()
}

type listBody struct {
	Status   string      `json:"status,omitempty"`
	List     []task.Item `json:"list"`
	Revision int64       `json:"revision"`
}

type elementBody struct {
	Status   string    `json:"status,omitempty"`
	Element  task.Item `json:"element"`
	Revision int64     `json:"revision"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "offline", http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

func patternOf(r *http.Request) string {
	if r.URL.Path == "/list" {
		return r.Method + " /list"
	}
	return r.Method + " /list/{id}"
}

func cloneAll(items []task.Item) []task.Item {
	out := make([]task.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
