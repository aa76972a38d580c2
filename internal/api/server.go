package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nudge/internal/delivery"
	"nudge/internal/logging"
	"nudge/internal/registry"
)

// Sender dispatches notifications. *delivery.Orchestrator satisfies it.
type Sender interface {
	Send(ctx context.Context, req delivery.Request) delivery.Result
}

// PresenceView reads live reachability state. *presence.Tracker satisfies it.
type PresenceView interface {
	IsConnected() bool
	OnlineCount() int
}

// Registry is the directory subset the API needs. *registry.Store satisfies
// it.
type Registry interface {
	Register(ctx context.Context, device registry.Device) error
	ListDevices(ctx context.Context) ([]*registry.Device, error)
	RecentSnapshots(ctx context.Context, limit int) ([]*registry.Snapshot, error)
}

// KeyValidator checks that a submitted public key parses. Production wires
// it to envelope.ParsePublicKey.
type KeyValidator func(publicKeyPEM string) error

// Server is the HTTP operator API.
type Server struct {
	sender       Sender
	presence     PresenceView
	registry     Registry
	validateKey  KeyValidator
	token        string
	started      time.Time
	historyLimit int
	logger       *slog.Logger
	router       chi.Router
}

// Options configures a Server.
type Options struct {
	Sender   Sender
	Presence PresenceView
	Registry Registry
	// ValidateKey rejects malformed public keys at registration time.
	ValidateKey KeyValidator
	// Token enables bearer auth when non-empty.
	Token string
	// Started anchors the uptime calculation.
	Started time.Time
	// HistoryLimit caps GET /status/history responses.
	HistoryLimit int
	Logger       *slog.Logger
}

// NewServer builds the router and its middleware stack.
func NewServer(opts Options) *Server {
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 30
	}
	s := &Server{
		sender:       opts.Sender,
		presence:     opts.Presence,
		registry:     opts.Registry,
		validateKey:  opts.ValidateKey,
		token:        opts.Token,
		started:      opts.Started,
		historyLimit: opts.HistoryLimit,
		logger:       logging.NewComponentLogger(opts.Logger, "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.token != "" {
		r.Use(s.requireToken)
	}
	r.Post("/register", s.handleRegister)
	r.Post("/notify", s.handleNotify)
	r.Get("/status", s.handleStatus)
	r.Get("/status/history", s.handleHistory)
	r.Get("/devices", s.handleDevices)
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on bind until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, bind string) error {
	srv := &http.Server{
		Addr:              bind,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api listening", slog.String("bind", bind))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
