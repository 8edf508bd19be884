package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/config"
	"github.com/thependalorian/buffrsign-sub001/internal/domain"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/chainmem"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/db"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/policy"
	"github.com/thependalorian/buffrsign-sub001/internal/infra/ratelimit"
	"github.com/thependalorian/buffrsign-sub001/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	identitySvc *usecase.IdentityService
	recorder    *usecase.AuditRecorder
	reporter    *usecase.ComplianceReporter
	chains      usecase.ChainRepository
	clock       usecase.Clock

	adminAPIKey string
	initErr     error

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, store: store, r: r}
	s.initDeps()
	s.routes()
	return s
}

// ServerDeps lets tests and embedding collaborators swap any part of the
// wiring.
type ServerDeps struct {
	Identities  usecase.IdentityRepository
	Chains      usecase.ChainRepository
	Reports     usecase.ReportRepository
	Flags       usecase.FlagEvaluator
	Clock       usecase.Clock
	AdminAPIKey string
	RateLimiter domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		chains:      deps.Chains,
		clock:       deps.Clock,
		adminAPIKey: deps.AdminAPIKey,
	}
	s.identitySvc = usecase.NewIdentityService(deps.Identities, deps.Clock)
	s.recorder = usecase.NewAuditRecorder(deps.Chains, deps.Identities, deps.Clock)
	if cfg.DefaultRetentionDays > 0 {
		s.recorder.RetentionDays = cfg.DefaultRetentionDays
	}
	flags := deps.Flags
	if flags == nil {
		engine, err := policy.NewEngine(context.Background())
		if err != nil {
			s.initErr = err
		}
		flags = engine
	}
	s.reporter = usecase.NewComplianceReporter(deps.Chains, deps.Identities, deps.Reports, flags, deps.Clock)
	if cfg.ReportValidityDays > 0 {
		s.reporter.ValidityDays = cfg.ReportValidityDays
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps() {
	s.adminAPIKey = s.cfg.AdminAPIKey

	var (
		identityRepo usecase.IdentityRepository
		chainRepo    usecase.ChainRepository
		reportRepo   usecase.ReportRepository
	)
	if s.store != nil && s.store.DB != nil {
		identityRepo = db.NewIdentityRepository(s.store.DB)
		chainRepo = db.NewChainRepository(s.store.DB)
		reportRepo = db.NewReportRepository(s.store.DB)
	} else {
		mem := chainmem.NewStore()
		identityRepo = mem
		chainRepo = mem
		reportRepo = mem.Reports()
	}

	var flags usecase.FlagEvaluator
	engine, err := s.buildPolicyEngine()
	if err != nil {
		s.initErr = err
	} else {
		flags = engine
	}

	s.chains = chainRepo
	s.identitySvc = usecase.NewIdentityService(identityRepo, nil)
	s.recorder = usecase.NewAuditRecorder(chainRepo, identityRepo, nil)
	if s.cfg.DefaultRetentionDays > 0 {
		s.recorder.RetentionDays = s.cfg.DefaultRetentionDays
	}
	s.reporter = usecase.NewComplianceReporter(chainRepo, identityRepo, reportRepo, flags, nil)
	if s.cfg.ReportValidityDays > 0 {
		s.reporter.ValidityDays = s.cfg.ReportValidityDays
	}

	s.initRateLimit(nil)
}

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Server) buildPolicyEngine() (*policy.Engine, error) {
	if s.cfg.CompliancePolicyPath != "" {
		return policy.NewEngineFromPath(context.Background(), s.cfg.CompliancePolicyPath)
	}
	return policy.NewEngine(context.Background())
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		mode := "memory"
		if s.store != nil && s.store.DB != nil {
			mode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/identities", s.handleCreateIdentity)
		v1.GET("/identities/:identity_id", s.handleGetIdentity)
		v1.POST("/identities/:identity_id/verify", s.handleReviewIdentity)
		v1.POST("/identities/:identity_id/events", s.handleRecordEvent)
		v1.GET("/identities/:identity_id/chain", s.handleGetChain)
		v1.GET("/identities/:identity_id/chain/verify", s.handleVerifyChain)
		v1.GET("/identities/:identity_id/chain/inclusion/:event_hash", s.handleInclusionProof)
		v1.POST("/identities/:identity_id/reports", s.handleGenerateReport)
		v1.GET("/reports/:report_id", s.handleGetReport)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	if s.cfg.AuthMode != "none" && s.cfg.AuthMode != "admin_key" {
		return errors.New("unsupported auth mode")
	}
	return s.r.Run(s.cfg.HTTPAddr)
}
