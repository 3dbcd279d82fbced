// Package rpc exposes the daemon service to local UI processes as a
// JSON-RPC 2.0 surface over loopback HTTP, plus an SSE event stream.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yurug/maplume-sub000/internal/app"
	"github.com/yurug/maplume-sub000/internal/platform/ratelimiter"
	"github.com/yurug/maplume-sub000/pkg/models"
)

const DefaultAddr = "127.0.0.1:9337"

const tokenHeader = "X-Maplume-Rpc-Token"

// Service is the surface the dispatcher needs from the daemon,
// satisfied by *app.Service.
type Service interface {
	GenerateMnemonic() (string, error)
	ValidateMnemonic(mnemonic string) bool
	CreateIdentity(ctx context.Context, username, displayName string) (models.Identity, string, error)
	ImportIdentity(ctx context.Context, username, mnemonic string) (models.Identity, error)
	Identity() (models.Identity, bool)
	Profile() models.Profile
	Login(ctx context.Context) (models.SessionInfo, error)
	Logout(ctx context.Context) error
	PushVault(ctx context.Context, appData json.RawMessage) (models.VaultStatus, error)
	PullVault(ctx context.Context) (json.RawMessage, models.VaultStatus, bool, error)
	ShareWith(ctx context.Context, recipient string, recipientKey []byte, payload json.RawMessage) (string, error)
	OpenShares(ctx context.Context) ([]app.OpenedShare, error)
	RevokeShare(ctx context.Context, shareID string) error
	QueueStatus() models.QueueStatus
	Flush(ctx context.Context)
	Subscribe(fromSeq int64) ([]app.NotificationEvent, <-chan app.NotificationEvent, func())
}

var _ Service = (*app.Service)(nil)

type Server struct {
	httpServer *http.Server
	service    Service
	logger     *slog.Logger
	token      string
	limiter    *ratelimiter.MapLimiter
	streams    *streamLimiter
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithToken enables static token auth. Empty disables it, which is
// acceptable only because the listener binds loopback.
func WithToken(token string) Option {
	return func(s *Server) { s.token = strings.TrimSpace(token) }
}

func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = ratelimiter.New(rps, burst, 10*time.Minute) }
}

// WithMetricsGatherer mounts /metrics for the given registry.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.mux().Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
}

func NewServer(addr string, svc Service, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service: svc,
		logger:  slog.Default(),
		streams: newStreamLimiter(64, 4),
	}
	for _, opt := range opts {
		opt(s)
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/rpc/stream", s.handleStream)
	if s.token == "" {
		s.logger.Warn("rpc token is not set; rpc auth disabled")
	}
	return s
}

func (s *Server) mux() *http.ServeMux {
	return s.httpServer.Handler.(*http.ServeMux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// applyCORS admits loopback origins only. Non-browser clients send no
// Origin header and pass through.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !isLoopbackOrigin(origin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, "+tokenHeader)
	return true
}

func isLoopbackOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.TrimSpace(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if s.extractToken(r) != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(tokenHeader)); token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

// clientKey buckets rate limiting by token when present, else by
// remote host.
func clientKey(r *http.Request, token string) string {
	if token != "" {
		return "token:" + token
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil || host == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
