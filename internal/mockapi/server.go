// Package mockapi serves an in-memory user-counter API with the same routes
// and response envelopes as the service the canonical scenario targets.
// It backs the end-to-end tests and `surge mock`.
package mockapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// User is a stored counter.
type User struct {
	ID        uint64    `json:"id"`
	Username  string    `json:"username"`
	Counter   int64     `json:"counter"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type successResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type createUserRequest struct {
	Username string `json:"username"`
}

// Stats counts handled requests per route.
type Stats struct {
	Create    int64
	Increment int64
	Count     int64
	Delete    int64
}

// Server is the mock user-counter service.
type Server struct {
	mu      sync.RWMutex
	users   map[uint64]*User
	byName  map[string]uint64
	nextID  atomic.Uint64
	latency time.Duration

	create, increment, count, del atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLatency delays every response.
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

// NewServer creates an empty mock service.
func NewServer(opts ...Option) *Server {
	s := &Server{
		users:  make(map[uint64]*User),
		byName: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /api/v1/users", s.createUser)
	mux.HandleFunc("GET /api/v1/users/{id}", s.getUser)
	mux.HandleFunc("PUT /api/v1/users/{id}/increment", s.incrementCounter)
	mux.HandleFunc("GET /api/v1/users/{id}/count", s.getCounter)
	mux.HandleFunc("DELETE /api/v1/users/{id}", s.deleteUser)
	return s.delay(mux)
}

func (s *Server) delay(next http.Handler) http.Handler {
	if s.latency <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(s.latency):
		case <-r.Context().Done():
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats returns per-route request counts.
func (s *Server) Stats() Stats {
	return Stats{
		Create:    s.create.Load(),
		Increment: s.increment.Load(),
		Count:     s.count.Load(),
		Delete:    s.del.Load(),
	}
}

// Len returns the number of stored users.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	s.create.Add(1)

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 50 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "username must be 3-50 characters"})
		return
	}

	now := time.Now()
	s.mu.Lock()
	if _, exists := s.byName[req.Username]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, errorResponse{Error: "failed_to_create_user", Message: "username already exists"})
		return
	}
	u := &User{
		ID:        s.nextID.Add(1),
		Username:  req.Username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = u
	s.byName[u.Username] = u.ID
	out := *u
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, successResponse{Message: "User created successfully", Data: out})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s.mu.RLock()
	u, exists := s.users[id]
	var out User
	if exists {
		out = *u
	}
	s.mu.RUnlock()

	if !exists {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "user_not_found"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Message: "User retrieved successfully", Data: out})
}

func (s *Server) getCounter(w http.ResponseWriter, r *http.Request) {
	s.count.Add(1)

	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s.mu.RLock()
	u, exists := s.users[id]
	var counter int64
	if exists {
		counter = u.Counter
	}
	s.mu.RUnlock()

	if !exists {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "user_not_found"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Message: "User counter retrieved successfully",
		Data:    map[string]interface{}{"user_id": id, "counter": counter, "source": "memory"},
	})
}

func (s *Server) incrementCounter(w http.ResponseWriter, r *http.Request) {
	s.increment.Add(1)

	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	u, exists := s.users[id]
	var counter int64
	if exists {
		u.Counter++
		u.UpdatedAt = time.Now()
		counter = u.Counter
	}
	s.mu.Unlock()

	if !exists {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "user_not_found"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Message: "Counter incremented successfully",
		Data:    map[string]interface{}{"user_id": id, "new_counter": counter},
	})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	s.del.Add(1)

	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	u, exists := s.users[id]
	if exists {
		delete(s.byName, u.Username)
		delete(s.users, id)
	}
	s.mu.Unlock()

	if !exists {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "user_not_found"})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Message: "User deleted successfully"})
}

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_user_id", Message: "user ID must be a number"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
