// Package gateway exposes a client as a JSON-RPC endpoint so that tools
// without a minimal-trust client can use it as their node.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"trustclient/errcode"
	"trustclient/gateway/middleware"
	"trustclient/nodelist"
	"trustclient/request"
	"trustclient/rpc"
)

const (
	maxBodySize     = 1 << 20
	shutdownTimeout = 10 * time.Second

	codeInvalidRequest = -32600
	codeInternal       = -32603
)

// Backend executes requests. Send is called from concurrent handlers;
// *client.Client queues them and drives one request at a time.
type Backend interface {
	Send(ctx context.Context, payload []byte, opts ...request.Option) ([]byte, error)
	Nodes(chainID uint64) ([]nodelist.Node, []nodelist.Weight, error)
}

type Config struct {
	Listen    string
	RateLimit middleware.RateLimit
	CORS      middleware.CORSConfig
	Auth      middleware.AuthConfig
}

type Server struct {
	cfg      Config
	backend  Backend
	logger   *slog.Logger
	registry *prometheus.Registry
	handler  http.Handler
}

func New(cfg Config, backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, backend: backend, logger: logger, registry: prometheus.NewRegistry()}

	obs := middleware.NewObservability("trustclient-gateway", s.registry, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, logger)
	auth := middleware.NewAuthenticator(cfg.Auth, logger)

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, s.registry},
		promhttp.HandlerOpts{},
	))
	r.Group(func(sr chi.Router) {
		sr.Use(limiter.Middleware, auth.Middleware)
		sr.With(obs.Middleware("rpc")).Post("/", s.handleRPC)
		sr.With(obs.Middleware("nodes")).Get("/nodes/{chainID}", s.handleNodes)
	})
	s.handler = otelhttp.NewHandler(r, "gateway")
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, errcode.Wrap(errcode.Invalid, "read body", err))
		return
	}
	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, nil, errcode.New(errcode.Limit, "request body too large"))
		return
	}
	var opts []request.Option
	if raw := r.URL.Query().Get("chain"); raw != "" {
		chainID, err := strconv.ParseUint(raw, 0, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, nil, errcode.Newf(errcode.Invalid, "invalid chain %q", raw))
			return
		}
		opts = append(opts, request.WithChain(chainID))
	}

	out, err := s.backend.Send(r.Context(), body, opts...)
	if err != nil {
		s.logger.Info("request failed", "id", middleware.RequestID(r.Context()), "error", err)
		writeError(w, http.StatusOK, requestID(body), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

type nodeView struct {
	Address          common.Address `json:"address"`
	URL              string         `json:"url"`
	Props            string         `json:"props"`
	Deposit          uint64         `json:"deposit"`
	BootNode         bool           `json:"bootNode,omitempty"`
	Whitelisted      bool           `json:"whitelisted,omitempty"`
	Responses        uint32         `json:"responses"`
	AvgResponseMS    uint32         `json:"avgResponseMs"`
	BlacklistedUntil uint64         `json:"blacklistedUntil,omitempty"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 0, 64)
	if err != nil {
		http.Error(w, "invalid chain id", http.StatusBadRequest)
		return
	}
	nodes, weights, err := s.backend.Nodes(chainID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	out := make([]nodeView, len(nodes))
	for i, n := range nodes {
		out[i] = nodeView{
			Address:     n.Address,
			URL:         n.URL,
			Props:       n.Props.String(),
			Deposit:     n.Deposit,
			BootNode:    n.IsBootNode(),
			Whitelisted: n.IsWhitelisted(),
		}
		if i < len(weights) {
			out[i].Responses = weights[i].ResponseCount
			out[i].AvgResponseMS = weights[i].AverageResponseTime()
			out[i].BlacklistedUntil = weights[i].BlacklistedUntil
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// requestID returns the id of a single request payload, or nil.
func requestID(body []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || len(probe.ID) == 0 {
		return nil
	}
	return probe.ID
}

type errorData struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, err error) {
	code := errcode.CodeOf(err)
	rpcCode := codeInternal
	if code == errcode.Invalid {
		rpcCode = codeInvalidRequest
	}
	data, _ := json.Marshal(errorData{Code: int(code), Name: code.String()})
	if id == nil {
		id = json.RawMessage("null")
	}
	resp := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   *rpc.Error      `json:"error"`
	}{rpc.Version, id, &rpc.Error{Code: rpcCode, Message: err.Error(), Data: data}}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
