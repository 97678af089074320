// Package apitest runs an in-process fake of the KokoMemo API for tests.
//
// Access tokens are HS256 JWTs with a configurable lifetime; refresh tokens
// are opaque and rotate on every refresh. Handlers count their calls so tests
// can assert on network traffic.
package apitest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/florianilch/kokomemo/internal/credstore"
)

// APIPrefix is the path prefix of every endpoint; BaseURL includes it.
const APIPrefix = "/api/v1"

// Identity is the profile returned by /user/info.
var Identity = map[string]any{
	"id":              "user-1",
	"name":            "Alice",
	"email":           "alice@example.com",
	"storage_used":    2048,
	"created_at":      "2024-05-01T10:00:00Z",
	"linked_services": []string{"google"},
}

// Server is a fake KokoMemo API.
type Server struct {
	*httptest.Server

	// BaseURL is the API root to hand to the client under test.
	BaseURL string

	secret    []byte
	accessTTL time.Duration

	mu            sync.Mutex
	refreshTokens map[string]bool
	revoked       map[string]bool
	holdRefresh   chan struct{}
	rejectRefresh bool
	rejectAll     bool

	calls sync.Map // path -> *atomic.Int64
}

// New starts a Server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		secret:        []byte("apitest-secret"),
		accessTTL:     time.Minute,
		refreshTokens: make(map[string]bool),
		revoked:       make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+APIPrefix+"/user/login/token/refresh", s.handleRefresh)
	mux.HandleFunc("POST "+APIPrefix+"/user/login/{service}", s.handleLogin)
	mux.HandleFunc("GET "+APIPrefix+"/user/login/logout", s.authenticated(s.handleLogout))
	mux.HandleFunc("GET "+APIPrefix+"/user/info", s.authenticated(s.handleInfo))
	mux.HandleFunc("GET "+APIPrefix+"/walls", s.authenticated(s.handleListWalls))
	mux.HandleFunc("POST "+APIPrefix+"/walls", s.authenticated(s.handleCreateWall))

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.counter(r.Method + " " + strings.TrimPrefix(r.URL.Path, APIPrefix)).Add(1)
		mux.ServeHTTP(w, r)
	}))
	s.BaseURL = s.URL + APIPrefix
	t.Cleanup(s.Close)

	return s
}

// Calls returns how often "METHOD /path" was requested, path without APIPrefix.
func (s *Server) Calls(route string) int64 {
	return s.counter(route).Load()
}

// TotalCalls returns the number of requests of any kind.
func (s *Server) TotalCalls() int64 {
	var total int64
	s.calls.Range(func(_, v any) bool {
		total += v.(*atomic.Int64).Load()
		return true
	})
	return total
}

func (s *Server) counter(route string) *atomic.Int64 {
	v, _ := s.calls.LoadOrStore(route, &atomic.Int64{})
	return v.(*atomic.Int64)
}

// IssuePair returns a pair the server accepts.
func (s *Server) IssuePair(t testing.TB) credstore.Pair {
	t.Helper()
	return s.issue(t, s.accessTTL)
}

// IssueExpiredPair returns a pair whose access token has expired but whose
// refresh token is still good.
func (s *Server) IssueExpiredPair(t testing.TB) credstore.Pair {
	t.Helper()
	return s.issue(t, -time.Minute)
}

func (s *Server) issue(t testing.TB, ttl time.Duration) credstore.Pair {
	t.Helper()
	pair, err := s.newPair(ttl)
	if err != nil {
		t.Fatalf("issuing pair: %v", err)
	}
	return pair
}

// Revoke makes the server reject an access token that has not yet expired.
func (s *Server) Revoke(accessToken string) {
	s.mu.Lock()
	s.revoked[accessToken] = true
	s.mu.Unlock()
}

// RejectRefresh makes every refresh attempt fail with 401.
func (s *Server) RejectRefresh() {
	s.mu.Lock()
	s.rejectRefresh = true
	s.mu.Unlock()
}

// RejectAllTokens makes every authenticated endpoint answer 401, even for
// freshly renewed credentials.
func (s *Server) RejectAllTokens() {
	s.mu.Lock()
	s.rejectAll = true
	s.mu.Unlock()
}

// HoldRefresh blocks refresh requests until the returned release is called.
func (s *Server) HoldRefresh() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holdRefresh = ch
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *Server) newPair(ttl time.Duration) (credstore.Pair, error) {
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": Identity["id"],
		"jti": uuid.NewString(),
		"exp": time.Now().Add(ttl).Unix(),
	}).SignedString(s.secret)
	if err != nil {
		return credstore.Pair{}, err
	}

	refresh := uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[refresh] = true
	s.mu.Unlock()

	return credstore.Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// authenticated rejects requests without a valid, unrevoked bearer token.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.verify(r); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r)
	}
}

func (s *Server) verify(r *http.Request) error {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return errors.New("missing bearer token")
	}

	s.mu.Lock()
	rejected := s.rejectAll || s.revoked[raw]
	s.mu.Unlock()
	if rejected {
		return errors.New("token rejected")
	}

	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	hold := s.holdRefresh
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	valid := s.refreshTokens[req.Token] && !s.rejectRefresh
	delete(s.refreshTokens, req.Token)
	s.mu.Unlock()
	if !valid {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	pair, err := s.newPair(s.accessTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, pair)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing token")
		return
	}
	if r.PathValue("service") != "google" || req.Token != "valid-assertion" {
		writeError(w, http.StatusUnauthorized, "identity assertion rejected")
		return
	}

	pair, err := s.newPair(s.accessTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.Revoke(raw)
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, Identity)
}

func (s *Server) handleListWalls(w http.ResponseWriter, r *http.Request) {
	walls := []map[string]string{{"id": "wall-1", "name": "Inbox"}}
	if q := r.URL.Query().Get("name"); q != "" {
		walls = []map[string]string{{"id": "wall-q", "name": q}}
	}
	writeData(w, http.StatusOK, walls)
}

func (s *Server) handleCreateWall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"id": "wall-2", "name": req.Name})
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
