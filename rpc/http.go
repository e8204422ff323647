package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socious-io/socious-smart-contracts/native/common"
	"github.com/socious-io/socious-smart-contracts/native/donation"
	"github.com/socious-io/socious-smart-contracts/native/escrow"
	"github.com/socious-io/socious-smart-contracts/native/income"
	"github.com/socious-io/socious-smart-contracts/native/lending"
	"github.com/socious-io/socious-smart-contracts/native/token"
	"github.com/socious-io/socious-smart-contracts/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeEngineInvalidParams = -32021
	codeEngineNotFound      = -32022
	codeEngineForbidden     = -32023
	codeEngineConflict      = -32024
	codeEngineInternal      = -32025
)

// Server exposes the native engines over JSON-RPC 2.0. Privileged methods
// (owner operations, pause control) require the configured bearer token;
// read and caller-authenticated methods do not.
type Server struct {
	escrow   *escrow.Engine
	lending  *lending.Engine
	donation *donation.Engine
	sink     *income.Sink
	registry *token.Registry
	pauses   *common.Pauses

	authToken string
	log       *slog.Logger
	metrics   *metrics.EngineMetrics
}

// Engines bundles the wired engine set handed to NewServer.
type Engines struct {
	Escrow   *escrow.Engine
	Lending  *lending.Engine
	Donation *donation.Engine
	Sink     *income.Sink
	Registry *token.Registry
	Pauses   *common.Pauses
}

func NewServer(engines Engines, authToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		escrow:    engines.Escrow,
		lending:   engines.Lending,
		donation:  engines.Donation,
		sink:      engines.Sink,
		registry:  engines.Registry,
		pauses:    engines.Pauses,
		authToken: strings.TrimSpace(authToken),
		log:       log,
		metrics:   metrics.Engine(),
	}
}

// Router mounts the RPC endpoint alongside health and metrics handlers.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
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
	s.log.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
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
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	bearer := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if bearer == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(bearer), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"escrow_create":         s.handleEscrowCreate,
		"escrow_get":            s.handleEscrowGet,
		"escrow_setContributor": s.handleEscrowSetContributor,
		"escrow_withdraw":       s.handleEscrowWithdraw,
		"escrow_decide":         s.handleEscrowDecide,
		"escrow_retryPayouts":   s.handleEscrowRetryPayouts,

		"registry_add":    s.handleRegistryAdd,
		"registry_tokens": s.handleRegistryTokens,

		"income_beneficiary":    s.handleIncomeBeneficiary,
		"income_collect":        s.handleIncomeCollect,
		"income_setBeneficiary": s.handleIncomeSetBeneficiary,
		"income_sweep":          s.handleIncomeSweep,

		"lending_createProject": s.handleLendingCreateProject,
		"lending_get":           s.handleLendingGet,
		"lending_lend":          s.handleLendingLend,
		"lending_borrow":        s.handleLendingBorrow,
		"lending_repay":         s.handleLendingRepay,
		"lending_redeem":        s.handleLendingRedeem,

		"donation_donate":   s.handleDonationDonate,
		"donation_fee":      s.handleDonationFee,
		"donation_setFee":   s.handleDonationSetFee,
		"donation_sent":     s.handleDonationSent,
		"donation_received": s.handleDonationReceived,

		"admin_setPaused": s.handleSetPaused,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "failed to read request body", err.Error())
		return
	}
	if int64(len(body)) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.methods()[req.Method]
	if !ok {
		s.metrics.ObserveRPC(req.Method, true)
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(rec, r, req)
	s.metrics.ObserveRPC(req.Method, rec.status >= http.StatusBadRequest)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
