package rpc

import (
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
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cipherlend/core"
	"cipherlend/fhe"
	"cipherlend/observability"
)

const (
	maxRequestBytes = 1 << 20

	requestIDHeader = "X-Request-ID"
)

// ServerConfig configures the JSON-RPC surface.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimitConfig
	// ReadHeaderTimeout bounds how long the server waits for request headers.
	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
}

type methodHandler func(ctx context.Context, p *principal, params []json.RawMessage) (interface{}, error)

type method struct {
	handler methodHandler
	// authenticated methods need a valid bearer token when auth is enabled.
	authenticated bool
}

// Server exposes a Node over JSON-RPC 2.0.
type Server struct {
	node    *core.Node
	oracle  *fhe.Oracle
	auth    *authenticator
	limiter *rateLimiter
	trustFw bool
	logger  *slog.Logger
	methods map[string]method
	router  chi.Router

	readHeaderTimeout time.Duration

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer builds the HTTP surface for node. oracle may be nil, in which case
// fhe_publicDecrypt is unavailable.
func NewServer(node *core.Node, oracle *fhe.Oracle, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ReadHeaderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Server{
		node:              node,
		oracle:            oracle,
		auth:              newAuthenticator(cfg.Auth),
		limiter:           newRateLimiter(cfg.RateLimit),
		trustFw:           cfg.RateLimit.TrustForwardedFor,
		logger:            logger.With(slog.String("component", "rpc")),
		readHeaderTimeout: timeout,
	}
	s.registerMethods()
	s.router = s.routes()
	return s, nil
}

func (s *Server) registerMethods() {
	s.methods = map[string]method{
		"vault_stake":              {handler: s.handleStake, authenticated: true},
		"vault_borrow":             {handler: s.handleBorrow, authenticated: true},
		"vault_repay":              {handler: s.handleRepay, authenticated: true},
		"vault_requestWithdraw":    {handler: s.handleRequestWithdraw, authenticated: true},
		"vault_finalizeWithdraw":   {handler: s.handleFinalizeWithdraw, authenticated: true},
		"vault_withdrawable":       {handler: s.handleWithdrawable, authenticated: true},
		"vault_getPosition":        {handler: s.handleGetPosition},
		"vault_getWithdrawRequest": {handler: s.handleGetWithdrawRequest},
		"vault_events":             {handler: s.handleEvents},
		"fhe_encrypt":              {handler: s.handleEncrypt, authenticated: true},
		"fhe_userDecrypt":          {handler: s.handleUserDecrypt, authenticated: true},
		"fhe_publicDecrypt":        {handler: s.handlePublicDecrypt},
		"bank_getBalance":          {handler: s.handleBankBalance},
		"token_getBalance":         {handler: s.handleTokenBalance},
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	r.Get("/ws/events", s.handleEventsWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "cipherlend.rpc")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("rpc listening", slog.String("addr", listener.Addr().String()))
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	start := time.Now()

	if !s.limiter.allow(clientSource(r, s.trustFw), start) {
		observability.ModuleMetrics().RecordThrottle("rate")
		writeError(w, http.StatusTooManyRequests, nil, CodeRateLimited, "rate limit exceeded", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, nil, CodeInvalidRequest, "request body too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, nil, CodeParseError, "failed to read request body", err.Error())
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, CodeParseError, "failed to parse request", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, CodeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, CodeInvalidRequest, "method required", nil)
		return
	}

	module, _, _ := strings.Cut(req.Method, "_")
	code := 0
	defer func() {
		observability.ModuleMetrics().Observe(module, req.Method, code, time.Since(start))
		s.logger.Debug("rpc request",
			slog.String("request_id", w.Header().Get(requestIDHeader)),
			slog.String("method", req.Method),
			slog.Int("code", code),
			slog.Duration("duration", time.Since(start)))
	}()

	m, ok := s.methods[req.Method]
	if !ok {
		code = CodeMethodNotFound
		writeError(w, http.StatusNotFound, req.ID, code, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}

	p := &principal{}
	if m.authenticated {
		var authErr *RPCError
		p, authErr = s.auth.authenticate(r)
		if authErr != nil {
			code = authErr.Code
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	result, err := m.handler(r.Context(), p, req.Params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			code = rpcErr.Code
			status := http.StatusBadRequest
			if rpcErr.Code == CodeForbidden {
				status = http.StatusForbidden
			}
			writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
		code = writeDomainError(w, req.ID, err)
		if code == CodeServerError {
			s.logger.Error("rpc method failed", slog.String("method", req.Method), slog.Any("error", err))
		}
		return
	}
	writeResult(w, req.ID, result)
}
