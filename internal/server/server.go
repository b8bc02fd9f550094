package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fiscalia/internal/audit/domain"
	"github.com/smallbiznis/fiscalia/internal/authorization"
	"github.com/smallbiznis/fiscalia/internal/cache"
	certdomain "github.com/smallbiznis/fiscalia/internal/certvault/domain"
	"github.com/smallbiznis/fiscalia/internal/certvault/seal"
	"github.com/smallbiznis/fiscalia/internal/config"
	invoicedomain "github.com/smallbiznis/fiscalia/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/fiscalia/internal/ledger/domain"
	"github.com/smallbiznis/fiscalia/internal/observability/logger"
	"github.com/smallbiznis/fiscalia/internal/observability/metrics"
	"github.com/smallbiznis/fiscalia/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HeaderOrg would let a caller steer organization scope. It is rejected
// on the API-key surface; scope comes from the credential alone.
const HeaderOrg = "X-Org-Id"

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	GenID     *snowflake.Node
	LedgerSvc ledgerdomain.Service
	CertSvc   certdomain.Service
	AuthzSvc  authorization.Service
	AuditSvc  auditdomain.Service
	Drafts    invoicedomain.Repository
	Limiter   ratelimit.Store
	Sealer    seal.Sealer
	Metrics   *metrics.HTTPMetrics
}

type Server struct {
	cfg       config.Config
	log       *zap.Logger
	db        *gorm.DB
	genID     *snowflake.Node
	ledgerSvc ledgerdomain.Service
	certSvc   certdomain.Service
	authzSvc  authorization.Service
	auditSvc  auditdomain.Service
	drafts    invoicedomain.Repository
	limiter   ratelimit.Store
	sealer    seal.Sealer
	metrics   *metrics.HTTPMetrics
	keyCache  *cache.TTLCache[string, apiKeyRecord]
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:       p.Config,
		log:       p.Log.Named("server"),
		db:        p.DB,
		genID:     p.GenID,
		ledgerSvc: p.LedgerSvc,
		certSvc:   p.CertSvc,
		authzSvc:  p.AuthzSvc,
		auditSvc:  p.AuditSvc,
		drafts:    p.Drafts,
		limiter:   p.Limiter,
		sealer:    p.Sealer,
		metrics:   p.Metrics,
		keyCache:  cache.NewTTLCache[string, apiKeyRecord](),
	}
}

// NewEngine builds the gin engine with the shared middleware stack and
// the full route table.
func NewEngine(s *Server) *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{SkipPaths: []string{"/healthz"}}))
	engine.Use(metrics.GinMiddleware(s.metrics))

	engine.GET("/healthz", s.Healthz)

	admin := engine.Group("/api/admin", s.AdminPasswordRequired())
	{
		admin.POST("/orgs", s.CreateOrganization)
		admin.POST("/orgs/:id/api_keys", s.CreateAPIKey)
	}

	api := engine.Group("/api", s.APIKeyRequired())
	{
		api.POST("/series", s.RateLimitRequired(), s.CreateSeries)

		api.POST("/invoices", s.RateLimitRequired(), s.CreateDraftInvoice)
		api.POST("/invoices/:id/finalize", s.RateLimitRequired(), s.FinalizeInvoice)

		api.POST("/ledger/entries/:id/cancel", s.RateLimitRequired(), s.CancelEntry)
		api.GET("/ledger/export", s.ExportLedger)

		api.PUT("/certificates", s.RateLimitRequired(), s.UploadCertificate)
		api.GET("/certificates/history", s.ListCertificateHistory)
	}

	if !s.cfg.IsProduction() {
		engine.POST("/api/test/cleanup", s.TestCleanup)
	}

	return engine
}

// Healthz reports liveness plus a database ping.
func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Provide(NewEngine),
	fx.Invoke(RunHTTP),
)

// RunHTTP binds the engine to the configured listener for the lifetime
// of the fx application.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, engine *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
