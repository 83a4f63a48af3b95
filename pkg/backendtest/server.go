// Package backendtest provides an in-process fake of the NL2SQL backend's
// REST surface for tests.
package backendtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// RecordedRequest is a request the fake received.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// ReplyFunc produces the assistant's answer to a question.
type ReplyFunc func(question string) string

// Server fakes /test, /conversation, /conversation/{id} and /sql/query.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	conversations map[string]*conversation.Conversation
	requests      []RecordedRequest

	reply        ReplyFunc
	healthStatus int
	sendStatus   int
	queryResults any
	gate         chan struct{}
}

type Option func(*Server)

func WithReply(f ReplyFunc) Option {
	return func(s *Server) { s.reply = f }
}

// WithQueryResults sets the value returned in the "results" field of
// /sql/query.
func WithQueryResults(v any) Option {
	return func(s *Server) { s.queryResults = v }
}

// New starts a fake backend. Callers must Close it.
func New(opts ...Option) *Server {
	s := &Server{
		conversations: map[string]*conversation.Conversation{},
		reply: func(q string) string {
			return fmt.Sprintf("You asked: %s", q)
		},
		healthStatus: http.StatusOK,
		sendStatus:   http.StatusOK,
		queryResults: []map[string]any{},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.record)
	r.HandleFunc("/test", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/conversation", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/conversation/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/conversation/{id}", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/sql/query", s.handleQuery).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	return s
}

// Start is New plus a cleanup registered on tb.
func Start(tb testing.TB, opts ...Option) *Server {
	tb.Helper()
	s := New(opts...)
	tb.Cleanup(s.Close)
	return s
}

// SetHealthStatus makes /test answer with status.
func (s *Server) SetHealthStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthStatus = status
}

// SetSendStatus makes POST /conversation/{id} answer with status.
func (s *Server) SetSendStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendStatus = status
}

// HoldSends blocks POST /conversation/{id} until the returned func is called
// or the request context ends.
func (s *Server) HoldSends() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Requests returns a copy of everything received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests counts received requests matching method and path.
func (s *Server) CountRequests(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Conversation returns the server-side copy of a conversation.
func (s *Server) Conversation(id string) (*conversation.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return &conversation.Conversation{ID: c.ID, Messages: conversation.CloneMessages(c.Messages)}, true
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.healthStatus
	s.mu.Unlock()
	if status != http.StatusOK {
		writeJSON(w, status, map[string]any{"error": "backend unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Test endpoint is working!"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	c := &conversation.Conversation{ID: uuid.NewString(), Messages: []conversation.Message{}}
	s.mu.Lock()
	s.conversations[c.ID] = c
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"conversation": c})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.Conversation(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": c})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gate, status := s.gate, s.sendStatus
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if status != http.StatusOK {
		writeJSON(w, status, map[string]any{"error": "Internal server error: model unavailable"})
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No message provided"})
		return
	}

	id := mux.Vars(r)["id"]
	s.mu.Lock()
	c, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Conversation not found"})
		return
	}
	c.Messages = append(c.Messages,
		conversation.Message{Role: conversation.RoleUser, Content: body.Message},
		conversation.Message{Role: conversation.RoleAssistant, Content: s.reply(body.Message)},
	)
	snapshot := &conversation.Conversation{ID: c.ID, Messages: conversation.CloneMessages(c.Messages)}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Message added successfully",
		"conversation": snapshot,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query  string `json:"query"`
		Params []any  `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if body.Query == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "empty query"})
		return
	}
	s.mu.Lock()
	results := s.queryResults
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
