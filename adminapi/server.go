// Package adminapi is the live engine's HTTP control plane (gin, mirroring
// SynapseStrike/api/tactics.go's handler shape): read-only status endpoints
// plus mutating strategy lifecycle and flatten-all calls, gated behind a
// bearer token and a TOTP step-up check.
package adminapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantengine/live/engine"
	"quantengine/metrics"
	"quantengine/portfolio"
)

// Config controls one admin API server instance.
type Config struct {
	ListenAddr string

	// TokenHash is the bcrypt hash of the bearer token presented to
	// POST /login. The plaintext token itself is never stored.
	TokenHash string
	JWTSecret []byte
	TokenTTL  time.Duration

	// TOTPSecret is the base32 shared secret step-up auth validates codes
	// against for mutating endpoints (flatten-all, strategy stop).
	TOTPSecret string
}

// DefaultConfig returns a Config with a one-hour token lifetime; callers
// must still supply TokenHash, JWTSecret, and TOTPSecret.
func DefaultConfig() Config {
	return Config{ListenAddr: ":8090", TokenTTL: time.Hour}
}

// Server is the admin control plane over one portfolio manager and the
// live engine driving it. live may be nil if the server only fronts a
// backtest run's final state.
type Server struct {
	cfg Config
	mgr *portfolio.Manager
	live *engine.Engine
}

// New constructs a Server. live may be nil.
func New(cfg Config, mgr *portfolio.Manager, live *engine.Engine) *Server {
	return &Server{cfg: cfg, mgr: mgr, live: live}
}

// Router builds the gin engine with every route wired, ready to serve or to
// drive from httptest in tests.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/login", s.handleLogin)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	authed := r.Group("/")
	authed.Use(s.authMiddleware)
	{
		authed.GET("/status", s.handleStatus)
		authed.GET("/strategies", s.handleListStrategies)
		authed.POST("/strategies/:id/pause", s.handlePauseStrategy)
		authed.POST("/strategies/:id/resume", s.handleResumeStrategy)

		stepUp := authed.Group("/")
		stepUp.Use(s.stepUpMiddleware)
		{
			stepUp.POST("/flatten-all", s.handleFlattenAll)
			stepUp.POST("/strategies/:id/stop", s.handleStopStrategy)
		}
	}

	return r
}

// Run starts the HTTP server and blocks until it returns an error.
func (s *Server) Run() error {
	return s.Router().Run(s.cfg.ListenAddr)
}
