package agent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/core/service"
	"github.com/cookfi/cookfi-agent/pkg/version"
)

// WorkflowControl is the part of *service.Workflow the control API drives.
type WorkflowControl interface {
	Start(ctx context.Context) error
	Stop()
	RunCycle(ctx context.Context) (*service.CycleReport, error)
	State() service.State
	Running() bool
	LastCycle() *service.CycleReport
}

// Status is served on /v1/status.
type Status struct {
	Name      string               `json:"name"`
	Version   string               `json:"version"`
	Wallet    string               `json:"wallet"`
	DryRun    bool                 `json:"dry_run"`
	Running   bool                 `json:"running"`
	State     string               `json:"state"`
	Uptime    string               `json:"uptime"`
	Pending   int                  `json:"pending_swaps"`
	LastCycle *service.CycleReport `json:"last_cycle,omitempty"`
}

// ControlServer exposes health, metrics and the authenticated workflow API.
type ControlServer struct {
	workflow WorkflowControl
	metrics  http.Handler
	secret   []byte
	status   func() Status
	logger   *zap.Logger

	// ctx outlives the request that started the loop.
	ctx context.Context

	mu     sync.Mutex
	server *http.Server
	addr   string
}

func NewControlServer(ctx context.Context, wf WorkflowControl, metrics http.Handler, secret string, status func() Status, logger *zap.Logger) *ControlServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlServer{
		workflow: wf,
		metrics:  metrics,
		secret:   []byte(secret),
		status:   status,
		logger:   logger.Named("control"),
		ctx:      ctx,
	}
}

// Handler returns the routes. The /v1 routes are only mounted when a
// secret is configured.
func (c *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version()})
	})
	if c.metrics != nil {
		mux.Handle("GET /metrics", c.metrics)
	}

	if len(c.secret) == 0 {
		return mux
	}
	mux.Handle("GET /v1/status", c.auth(http.HandlerFunc(c.handleStatus)))
	mux.Handle("POST /v1/workflow/start", c.auth(http.HandlerFunc(c.handleStart)))
	mux.Handle("POST /v1/workflow/stop", c.auth(http.HandlerFunc(c.handleStop)))
	mux.Handle("POST /v1/workflow/cycle", c.auth(http.HandlerFunc(c.handleCycle)))
	return mux
}

func (c *ControlServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return c.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			c.logger.Warn("rejected control request", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *ControlServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var st Status
	if c.status != nil {
		st = c.status()
	}
	st.Running = c.workflow.Running()
	st.State = c.workflow.State().String()
	st.LastCycle = c.workflow.LastCycle()
	writeJSON(w, http.StatusOK, st)
}

func (c *ControlServer) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := c.workflow.Start(c.ctx); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	c.logger.Info("workflow started via control API")
	writeJSON(w, http.StatusAccepted, map[string]string{"state": c.workflow.State().String()})
}

func (c *ControlServer) handleStop(w http.ResponseWriter, _ *http.Request) {
	c.workflow.Stop()
	c.logger.Info("workflow stop requested via control API")
	writeJSON(w, http.StatusAccepted, map[string]string{"state": c.workflow.State().String()})
}

func (c *ControlServer) handleCycle(w http.ResponseWriter, r *http.Request) {
	report, err := c.workflow.RunCycle(r.Context())
	switch {
	case errors.Is(err, service.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, report)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// ListenAndServe binds addr and serves in the background.
func (c *ControlServer) ListenAndServe(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return domain.ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	srv := &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.server = srv
	c.addr = ln.Addr().String()

	c.logger.Info("🌐 Control server listening", zap.String("addr", c.addr), zap.Bool("api_enabled", len(c.secret) > 0))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, empty before ListenAndServe.
func (c *ControlServer) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *ControlServer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// IssueToken signs an HS256 control token for subject valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("control secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
