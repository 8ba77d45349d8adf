// Package ingress accepts externally submitted events over HTTP and hands
// each validated event to the agent loop, which alone writes output.
package ingress

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/memorypilot/watchagent/internal/config"
	agentlog "github.com/memorypilot/watchagent/internal/log"
	"github.com/memorypilot/watchagent/internal/metrics"
	"github.com/memorypilot/watchagent/internal/protocol"
	"github.com/memorypilot/watchagent/pkg/models"
)

const (
	// DefaultTimeout bounds a whole /store request
	DefaultTimeout = 2 * time.Second
	maxBodyBytes   = 10 * 1024 * 1024
	retireTimeout  = 5 * time.Second
)

var (
	ErrUnauthorized = errors.New("Unauthorized")
	ErrBadBody      = errors.New("Invalid request body")
	ErrKindEmpty    = errors.New("Kind is empty")
	ErrKindInvalid  = errors.New("Kind contains whitespace")
	ErrValueNull    = errors.New("Value is null")
)

// Submission is a validated event waiting for the loop to write it
type Submission struct {
	Event     models.Event
	RequestID string
	ctx       context.Context
	done      chan error
}

// NewSubmission wraps ev for hand-off to the loop. ctx is the request
// context; once it is done the event must no longer be written.
func NewSubmission(ctx context.Context, ev models.Event, requestID string) *Submission {
	return &Submission{Event: ev, RequestID: requestID, ctx: ctx, done: make(chan error, 1)}
}

// Err reports why the request is no longer waiting, or nil while it is
func (s *Submission) Err() error {
	return s.ctx.Err()
}

// Complete reports the write result back to the waiting request. It never
// blocks, even if the request has already given up.
func (s *Submission) Complete(err error) {
	select {
	case s.done <- err:
	default:
	}
}

// Done delivers the result passed to Complete
func (s *Submission) Done() <-chan error {
	return s.done
}

// Config configures the ingress server
type Config struct {
	Store   *config.Store
	Metrics *metrics.Metrics
	// Timeout defaults to DefaultTimeout
	Timeout time.Duration
}

type binding struct {
	// addr is the address as configured, before port resolution
	addr     string
	listener net.Listener
	server   *http.Server
}

// Server is the HTTP ingress
type Server struct {
	store       *config.Store
	metrics     *metrics.Metrics
	submissions chan *Submission
	handler     http.Handler
	closing     chan struct{}
	closeOnce   sync.Once

	mu     sync.Mutex
	active *binding
}

// New creates an ingress server; it does not listen until Listen is called
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	s := &Server{
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		submissions: make(chan *Submission),
		closing:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/store", http.TimeoutHandler(http.HandlerFunc(s.handleStore), cfg.Timeout, "Request timeout"))
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", cfg.Metrics.Handler())
	s.handler = mux
	return s, nil
}

// Submissions delivers validated events to the loop
func (s *Server) Submissions() <-chan *Submission {
	return s.submissions
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds addr and starts serving on it. If the server was already
// listening elsewhere, the old listener is retired once the new one is up,
// so there is no window without a listener. A bind failure leaves the
// current listener in place.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	b := &binding{
		addr:     addr,
		listener: ln,
		server: &http.Server{
			Handler:           s.handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	s.mu.Lock()
	old := s.active
	s.active = b
	s.mu.Unlock()

	go func() {
		if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			agentlog.Error("ingress server failed", "addr", addr, "error", err)
		}
	}()
	agentlog.Info("ingress listening", "addr", ln.Addr().String(), "path", "/store")

	if old != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
			defer cancel()
			if err := old.server.Shutdown(ctx); err != nil {
				agentlog.Warn("failed to retire ingress listener", "addr", old.addr, "error", err)
				return
			}
			agentlog.Info("ingress listener retired", "addr", old.addr)
		}()
	}
	return nil
}

// Addr returns the address actually bound, or "" when not listening
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.listener.Addr().String()
}

// ListenAddr returns the configured address of the current listener, as
// passed to Listen, or "" when not listening
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.addr
}

// Close aborts requests still waiting on the loop and shuts the listener
// down, waiting for in-flight responses until ctx expires.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	b := s.active
	s.active = nil
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	if err := b.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down ingress: %w", err)
	}
	return nil
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	requestID := ulid.Make().String()
	w.Header().Set("X-Request-Id", requestID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.reply(w, requestID, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cfg := s.store.Load()
	if err := authorize(cfg, r.Header.Get("Authorization")); err != nil {
		s.reject(w, requestID, http.StatusUnauthorized, err)
		return
	}

	var req models.StoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		agentlog.Debug("failed to decode store request", "request_id", requestID, "error", err)
		s.reject(w, requestID, http.StatusBadRequest, ErrBadBody)
		return
	}
	if err := validate(req); err != nil {
		s.reject(w, requestID, http.StatusBadRequest, err)
		return
	}

	sub := NewSubmission(r.Context(), models.NewEvent(req.Kind, models.OriginIngress, req.Value), requestID)
	agentlog.Debug("store request accepted", "request_id", requestID, "agent", req.Agent, "kind", req.Kind)

	select {
	case s.submissions <- sub:
	case <-r.Context().Done():
		s.abandon(requestID, "timed out waiting for agent loop")
		return
	case <-s.closing:
		s.reply(w, requestID, http.StatusServiceUnavailable, "Shutting down")
		return
	}

	select {
	case err := <-sub.Done():
		if err != nil {
			agentlog.Error("failed to emit ingress event", "request_id", requestID, "error", err)
			s.reply(w, requestID, http.StatusInternalServerError, "Failed to emit event")
			return
		}
		s.metrics.IngressRequest(http.StatusOK)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case <-r.Context().Done():
		s.abandon(requestID, "timed out waiting for write")
	case <-s.closing:
		s.reply(w, requestID, http.StatusServiceUnavailable, "Shutting down")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// abandon records a request that the timeout handler has already answered
func (s *Server) abandon(requestID, reason string) {
	s.metrics.IngressRequest(http.StatusServiceUnavailable)
	agentlog.Warn("store request abandoned", "request_id", requestID, "reason", reason)
}

func (s *Server) reject(w http.ResponseWriter, requestID string, code int, err error) {
	agentlog.Warn("store request rejected", "request_id", requestID, "code", code, "reason", err.Error())
	s.reply(w, requestID, code, err.Error())
}

func (s *Server) reply(w http.ResponseWriter, requestID string, code int, body string) {
	s.metrics.IngressRequest(code)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// extractBearerToken returns the token from an Authorization header value
func extractBearerToken(header string) (string, bool) {
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// authorize checks the bearer token against the configured key. In open
// mode (no key, or an empty key) every request passes.
func authorize(cfg *config.Config, header string) error {
	if !cfg.RequiresAuth() {
		return nil
	}
	token, ok := extractBearerToken(header)
	if !ok {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(*cfg.APIKey)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func validate(req models.StoreRequest) error {
	if req.Kind == "" {
		return ErrKindEmpty
	}
	if err := protocol.ValidKind(req.Kind); err != nil {
		return ErrKindInvalid
	}
	value := bytes.TrimSpace(req.Value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return ErrValueNull
	}
	return nil
}
