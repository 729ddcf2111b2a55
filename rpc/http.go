package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"megaluck/core"
	"megaluck/core/events"
	"megaluck/observability"
	"megaluck/observability/audit"
	"megaluck/observability/logging"
)

const (
	jsonRPCVersion   = "2.0"
	maxRequestBytes  = 1 << 20 // 1 MiB
	limiterIdleTTL   = 10 * time.Minute
	limiterSweepSize = 4096
	metricsModule    = "redeem"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig carries the transport settings for the JSON-RPC server.
type ServerConfig struct {
	// AuthToken guards administrative methods. Empty disables them unless
	// JWTSecret is set.
	AuthToken string
	// JWTSecret enables HS256 bearer tokens carrying the admin scope.
	JWTSecret         string
	JWTIssuer         string
	RequestsPerMinute int
	Burst             int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	Audit             *audit.Sink
	Events            *events.Broadcaster
	Logger            *slog.Logger
}

type sourceLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

type Server struct {
	node   *core.Node
	audit  *audit.Sink
	events *events.Broadcaster
	cfg    ServerConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*sourceLimiter
	now      func() time.Time
	methods  map[string]methodHandler
}

type methodHandler struct {
	admin bool
	fn    func(w http.ResponseWriter, r *http.Request, req *RPCRequest)
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:     node,
		audit:    cfg.Audit,
		events:   cfg.Events,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "rpc")),
		limiters: make(map[string]*sourceLimiter),
		now:      time.Now,
	}
	s.cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	s.cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	s.methods = s.redeemMethods()
	return s
}

// Handler returns the HTTP routes served by the node, instrumented with
// OpenTelemetry server spans.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "poold.rpc")
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	encoded, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "failed to encode result", err.Error())
		return
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: encoded}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"height": s.node.Height(),
	})
}

// handle decodes the JSON-RPC envelope and routes to the method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	reader := http.MaxBytesReader(ww, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	ww.Header().Set("Content-Type", "application/json")

	source := clientSource(r)
	if !s.allowSource(source) {
		observability.ModuleMetrics().RecordThrottle(metricsModule, "rate_limit")
		writeError(ww, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", source)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(ww, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(ww, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(ww, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(ww, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(ww, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("rpc.method", req.Method))
	handler, ok := s.methods[req.Method]
	if !ok {
		writeError(ww, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	defer func() {
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe(metricsModule, req.Method, status, time.Since(start))
	}()
	if handler.admin {
		if authErr := s.requireAuth(r); authErr != nil {
			s.logger.Warn("rpc: unauthorized admin call",
				slog.String("method", req.Method),
				slog.String("remote", source),
				logging.MaskField("authorization", r.Header.Get("Authorization")))
			writeError(ww, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	handler.fn(ww, r, req)
}

// allowSource applies a token bucket per remote source. A non-positive
// RequestsPerMinute disables limiting.
func (s *Server) allowSource(source string) bool {
	if s.cfg.RequestsPerMinute <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.limiters) >= limiterSweepSize {
		for key, entry := range s.limiters {
			if now.Sub(entry.seen) > limiterIdleTTL {
				delete(s.limiters, key)
			}
		}
	}
	entry, ok := s.limiters[source]
	if !ok {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		perSecond := rate.Limit(float64(s.cfg.RequestsPerMinute) / 60)
		entry = &sourceLimiter{limiter: rate.NewLimiter(perSecond, burst)}
		s.limiters[source] = entry
	}
	entry.seen = now
	return entry.limiter.AllowN(now, 1)
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
