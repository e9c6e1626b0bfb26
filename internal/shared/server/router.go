package server

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
	"github.com/Nadosaurusrex/devin-proj/internal/flags"
	"github.com/Nadosaurusrex/devin-proj/internal/github"
	"github.com/Nadosaurusrex/devin-proj/internal/jobs"
	"github.com/Nadosaurusrex/devin-proj/internal/sessions"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/config"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/metrics"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/server/middleware"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/server/respond"
	"github.com/Nadosaurusrex/devin-proj/internal/shared/storage/db"
)

// NewRouter constructs the Gin engine with middleware and routes registered.
// It fails fast when live mode is requested without credentials.
func NewRouter(cfg config.Config) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	// Dependencies
	var agent devin.Client
	if cfg.DevinMock {
		agent = devin.NewMockClient()
	} else {
		live, err := devin.NewHTTPClient(cfg.DevinAPIURL, cfg.DevinAPIKey, cfg.DevinTimeout)
		if err != nil {
			return nil, err
		}
		agent = live
	}
	extractor := devin.NewExtractor()

	var jobRepo jobs.Repo
	if cfg.DatabaseURL != "" {
		var sqlDB *sql.DB
		dbConn, err := db.Connect(context.Background(), cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			log.Printf("failed to connect database, falling back to memory: %v", err)
		} else {
			if err := db.RunMigrations(context.Background(), dbConn); err != nil {
				log.Printf("failed to run migrations, falling back to memory: %v", err)
				dbConn.Close()
				dbConn = nil
			}
			sqlDB = dbConn
		}
		if sqlDB != nil {
			jobRepo = &jobs.PGRepo{DB: sqlDB}
		}
	}
	if jobRepo == nil {
		jobRepo = jobs.NewMemoryRepo()
	}

	publisher := &jobs.Publisher{
		Repo:         jobRepo,
		Devin:        agent,
		Extractor:    extractor,
		PollInterval: cfg.StreamPollInterval,
		DrainGrace:   cfg.StreamDrainGrace,
	}

	limiter := middleware.NewRateLimiter(nil)
	pollRule := middleware.RateLimitRule{Rate: 5, Burst: 10}

	sessionHandler := &sessions.Handler{
		Devin:     agent,
		Extractor: extractor,
		Repo:      jobRepo,
		PollLimit: middleware.RateLimit(limiter, pollRule),
	}
	jobHandler := &jobs.Handler{
		Repo:      jobRepo,
		Devin:     agent,
		Extractor: extractor,
		Publisher: publisher,
		PollLimit: middleware.RateLimit(limiter, pollRule),
	}
	flagHandler := &flags.Handler{
		GitHub: github.NewClient(cfg.GitHubToken),
	}

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true, "mock": cfg.DevinMock})
	})
	sessionHandler.RegisterRoutes(api)
	jobHandler.RegisterRoutes(api)
	flagHandler.RegisterRoutes(api)

	return r, nil
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
