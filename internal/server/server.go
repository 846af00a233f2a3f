// Package server exposes the trust kernel over HTTP: entity
// registration, capability issuance, action verification, and the
// audit surface.
package server

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kevinmarty69/know-your-agent/internal/alert"
	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/capability"
	"github.com/kevinmarty69/know-your-agent/internal/config"
	"github.com/kevinmarty69/know-your-agent/internal/policy"
	"github.com/kevinmarty69/know-your-agent/internal/ratelimit"
	"github.com/kevinmarty69/know-your-agent/internal/store"
	"github.com/kevinmarty69/know-your-agent/internal/verify"
)

// settings is an immutable snapshot of the configuration the handlers
// need, so a config reload cannot race in-flight requests.
type settings struct {
	signing        config.SigningConfig
	bootstrapToken string
	ttl            capability.TTLBounds
	leeway         time.Duration
	exportMaxRows  int
}

func newSettings(cfg *config.Config) *settings {
	return &settings{
		signing:        cfg.Signing,
		bootstrapToken: cfg.BootstrapToken,
		ttl: capability.TTLBounds{
			Default: cfg.Capability.TTLDefaultMinutes,
			Min:     cfg.Capability.TTLMinMinutes,
			Max:     cfg.Capability.TTLMaxMinutes,
		},
		leeway:        time.Duration(cfg.Capability.LeewaySeconds) * time.Second,
		exportMaxRows: cfg.Audit.ExportMaxRows,
	}
}

// Server wires the kernel components behind a chi router. Signing keys
// can be swapped at runtime (see Reloader); everything else is fixed at
// construction.
type Server struct {
	cfg     *settings
	logger  *zap.Logger
	store   *store.Store
	chain   *audit.Chain
	engine  *policy.Engine
	metrics *Metrics
	alerts  *alert.Dispatcher

	registry *prometheus.Registry
	router   *chi.Mux

	mu       sync.RWMutex
	keys     *capability.SigningKeys
	issuer   *capability.Issuer
	pipeline *verify.Pipeline
}

// New builds a server from configuration. Signing key material must be
// loadable or construction fails; key problems are startup errors, not
// per-request ones.
func New(cfg *config.Config, logger *zap.Logger, st *store.Store, counter ratelimit.Counter) (*Server, error) {
	keys, err := loadKeys(cfg.Signing)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	s := &Server{
		cfg:      newSettings(cfg),
		logger:   logger.Named("server"),
		store:    st,
		chain:    audit.NewChain(st),
		engine:   policy.NewEngine(counter),
		metrics:  NewMetrics(registry),
		alerts:   alert.NewDispatcher(cfg.Alerts),
		registry: registry,
		router:   chi.NewRouter(),
	}
	s.swapKeys(keys)
	s.routes()
	return s, nil
}

func loadKeys(sc config.SigningConfig) (*capability.SigningKeys, error) {
	priv, err := os.ReadFile(sc.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("server: read private key: %w", err)
	}
	pub, err := os.ReadFile(sc.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("server: read public key: %w", err)
	}
	return capability.LoadSigningKeys(sc.KeyID, string(priv), string(pub))
}

// swapKeys installs a keypair and rebuilds the components that hold it.
func (s *Server) swapKeys(keys *capability.SigningKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
	s.issuer = capability.NewIssuer(s.store, s.chain, s.engine, keys, s.cfg.ttl)
	s.pipeline = verify.NewPipeline(s.store, s.chain, s.engine, keys, s.cfg.leeway)
}

// ReloadKeys re-reads the signing key files and swaps them in. Called
// by the file watcher; a failed reload keeps the previous keys.
func (s *Server) ReloadKeys() error {
	keys, err := loadKeys(s.cfg.signing)
	if err != nil {
		return err
	}
	s.swapKeys(keys)
	s.logger.Info("signing keys reloaded", zap.String("key_id", keys.KeyID))
	return nil
}

func (s *Server) currentIssuer() *capability.Issuer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.issuer
}

func (s *Server) currentPipeline() *verify.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		r.Post("/workspaces", s.handleCreateWorkspace)
	})

	r.Group(func(r chi.Router) {
		r.Use(workspaceContext)

		r.Get("/workspaces/{workspaceID}", s.handleGetWorkspace)

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", s.handleCreateAgent)
			r.Get("/{agentID}", s.handleGetAgent)
			r.Post("/{agentID}/revoke", s.handleRevokeAgent)
			r.Post("/{agentID}/bind_policy", s.handleBindPolicy)
		})

		r.Post("/policies", s.handleCreatePolicy)
		r.Get("/policies/{policyID}", s.handleGetPolicy)

		r.Post("/capabilities/request", s.handleRequestCapability)
		r.Post("/capabilities/{jti}/revoke", s.handleRevokeCapability)

		r.Post("/verify", s.handleVerify)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/events", s.handleListAuditEvents)
			r.Get("/export.json", s.handleExportAuditJSON)
			r.Get("/export.csv", s.handleExportAuditCSV)
			r.Get("/integrity/check", s.handleCheckIntegrity)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeHTTP lets Server act as a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
