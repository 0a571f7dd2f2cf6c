package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"matrixchain/core"
	"matrixchain/native/matrix"
	"matrixchain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeAlreadyRegistered = -32050
	codeNotRegistered     = -32051
	codeWrongPayment      = -32052
	codeLevelOutOfOrder   = -32053
	codeInvalidLevel      = -32054
	codeUnknownUser       = -32060
)

// Server exposes the ledger over JSON-RPC 2.0. Mutating methods optionally
// require a bearer token (MATRIX_RPC_TOKEN).
type Server struct {
	node      *core.Node
	authToken string

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	perMin   float64
	burst    int
}

// NewServer wires the RPC surface around a node. A non-positive rate limit
// disables throttling.
func NewServer(node *core.Node, ratePerMinute float64, burst int) *Server {
	return &Server{
		node:      node,
		authToken: strings.TrimSpace(os.Getenv("MATRIX_RPC_TOKEN")),
		visitors:  make(map[string]*rate.Limiter),
		perMin:    ratePerMinute,
		burst:     burst,
	}
}

// Router mounts the JSON-RPC endpoint alongside health and metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) allow(remoteAddr string) bool {
	if s.perMin <= 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	s.mu.Lock()
	limiter, ok := s.visitors[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.perMin/60), s.burst)
		s.visitors[host] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func isMutating(method string) bool {
	switch method {
	case "matrix_register", "matrix_registerWithReferrer", "matrix_buyLevel":
		return true
	}
	return false
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.allow(r.RemoteAddr) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload")
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version")
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method is required")
		return
	}
	if isMutating(req.Method) && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing or invalid bearer token")
		return
	}

	metrics := observability.Metrics()
	started := time.Now()
	outcome := "ok"
	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method "+req.Method)
		metrics.RPCRequests.WithLabelValues(req.Method, "not_found").Inc()
		return
	}
	if err := handler(w, &req); err != nil {
		outcome = "error"
		s.writeLedgerError(w, req.ID, err)
	}
	metrics.RPCRequests.WithLabelValues(req.Method, outcome).Inc()
	metrics.RPCLatency.WithLabelValues(req.Method).Observe(time.Since(started).Seconds())
}

// writeLedgerError maps ledger sentinel errors onto stable RPC codes.
func (s *Server) writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, errInvalidParams):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error())
	case errors.Is(err, matrix.ErrAlreadyRegistered):
		writeError(w, http.StatusOK, id, codeAlreadyRegistered, err.Error())
	case errors.Is(err, matrix.ErrNotRegistered):
		writeError(w, http.StatusOK, id, codeNotRegistered, err.Error())
	case errors.Is(err, matrix.ErrWrongPayment):
		writeError(w, http.StatusOK, id, codeWrongPayment, err.Error())
	case errors.Is(err, matrix.ErrLevelOutOfOrder):
		writeError(w, http.StatusOK, id, codeLevelOutOfOrder, err.Error())
	case errors.Is(err, matrix.ErrInvalidLevel):
		writeError(w, http.StatusOK, id, codeInvalidLevel, err.Error())
	case errors.Is(err, matrix.ErrUnknownUser):
		writeError(w, http.StatusOK, id, codeUnknownUser, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error())
	}
}
