// Package api serves the HTTP surface: the webhook ingress, the
// dashboard status/read API with JWT auth, and health.
package api

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/audit"
	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/guard"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/review"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/internal/store"
	"github.com/prpatrol/prpatrol/pkg/consts"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// Exporter renders an archived review into a downloadable document.
type Exporter interface {
	Export(ctx context.Context, archive *model.ReviewArchive) (data []byte, contentType string, err error)
}

// Deps carries the server's collaborators. Archive and Exporter are
// optional.
type Deps struct {
	Config   *config.Config
	States   *state.Store
	Coord    *review.Coordinator
	Provider forge.Provider
	Guard    *guard.Guard
	Audit    *audit.Logger
	Archive  store.Store
	Exporter Exporter
}

// Server assembles the gin router and its handlers.
type Server struct {
	cfg      *config.Config
	states   *state.Store
	coord    *review.Coordinator
	provider forge.Provider
	guard    *guard.Guard
	audit    *audit.Logger
	archive  store.Store
	exporter Exporter

	auth        *AuthManager
	baseCtx     context.Context
	startTime   time.Time
	trigger     *regexp.Regexp
	triggerOnce sync.Once
	log         *zap.Logger
}

// NewServer builds the HTTP server. baseCtx scopes asynchronous work
// spawned by webhook deliveries; cancelling it stops submissions.
func NewServer(baseCtx context.Context, deps Deps) *Server {
	return &Server{
		cfg:       deps.Config,
		states:    deps.States,
		coord:     deps.Coord,
		provider:  deps.Provider,
		guard:     deps.Guard,
		audit:     deps.Audit,
		archive:   deps.Archive,
		exporter:  deps.Exporter,
		auth:      NewAuthManager(&deps.Config.Dashboard.Auth),
		baseCtx:   baseCtx,
		startTime: time.Now(),
		log:       logger.Named("api"),
	}
}

// Router assembles the route tree.
func (s *Server) Router() *gin.Engine {
	if !s.cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(recovery(), requestID(), requestLogger(), otelgin.Middleware(consts.ServiceName))

	r.GET("/healthz", s.handleHealthz)

	v1 := r.Group("/api/v1")
	v1.POST("/webhooks/:provider", s.handleWebhook)
	v1.POST("/auth/login", s.handleLogin)

	protected := v1.Group("")
	if s.dashboardAuthEnabled() {
		protected.Use(jwtAuth(s.auth))
	}
	protected.GET("/status", s.handleStatus)
	protected.GET("/prs", s.handleListPRs)
	protected.GET("/prs/:owner/:repo/:number", s.handleGetPR)
	protected.GET("/reviews", s.handleListReviews)
	protected.GET("/reviews/:id/export", s.handleExportReview)
	protected.GET("/usage", s.handleUsage)
	protected.GET("/settings", s.handleListSettings)
	protected.PUT("/settings/:key", s.handlePutSetting)
	protected.GET("/guard", s.handleGuard)
	protected.POST("/guard/resume", s.handleGuardResume)
	protected.GET("/audit", s.handleAudit)

	return r
}

func (s *Server) dashboardAuthEnabled() bool {
	auth := s.cfg.Dashboard.Auth
	return s.cfg.Dashboard.Enabled && auth.PasswordHash != "" && auth.JWTSecret != ""
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
