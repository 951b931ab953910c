package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/marvin-wtt/camp-registration-api/internal/auth"
	"github.com/marvin-wtt/camp-registration-api/internal/config"
	"github.com/marvin-wtt/camp-registration-api/internal/http/handlers"
	"github.com/marvin-wtt/camp-registration-api/internal/http/middlewares"
	"github.com/marvin-wtt/camp-registration-api/internal/observability"
	"github.com/marvin-wtt/camp-registration-api/internal/queue/redisclient"
	"github.com/marvin-wtt/camp-registration-api/internal/registrations"
	"github.com/marvin-wtt/camp-registration-api/internal/repo/postgres"
)

// Deps is everything the router wires together. Redis is optional, the
// listing cache simply turns off without it.
type Deps struct {
	Cfg            config.Config
	Log            *slog.Logger
	Pool           *pgxpool.Pool
	Prom           *observability.Prom
	PromReg        *prometheus.Registry
	Redis          *redisclient.Client
	JWT            *auth.Manager
	Coord          *registrations.Coordinator
	AllowedOrigins []string
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.AllowedOrigins))
	r.Use(otelgin.Middleware("camp-registration-api"))

	// JSON bodies are capped tight, the upload route gets its own limit
	jsonBody := middlewares.MaxBodyBytes(1 << 20)

	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// health
	ping := func() error {
		if d.Pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return d.Pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.PromReg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.PromReg, promhttp.HandlerOpts{})))
	}

	// docs
	r.GET("/swagger", handlers.SwaggerUI)
	r.StaticFile("/docs/openapi.yaml", "./docs/openapi.yaml")

	// wire up repositories
	campsRepo := postgres.NewCampsRepo(d.Pool, d.Prom)
	registrationsRepo := postgres.NewRegistrationsRepo(d.Pool, d.Prom)
	filesRepo := postgres.NewFilesRepo(d.Pool, d.Prom)
	usersRepo := postgres.NewUsersRepo(d.Pool)
	refreshRepo := postgres.NewRefreshTokensRepo(d.Pool)
	jobsRepo := postgres.NewJobsRepo(d.Pool, d.Prom)

	// handlers
	var listCache handlers.ListCache
	if d.Redis != nil {
		listCache = d.Redis
	} else if d.Log != nil {
		d.Log.Info("redis not configured, camps list cache off")
	}

	campsHandler := handlers.NewCampsHandler(campsRepo, listCache)
	registrationsHandler := handlers.NewRegistrationsHandler(d.Coord, registrationsRepo, campsRepo)
	filesHandler := handlers.NewFilesHandler(filesRepo, d.Cfg.UploadDir, d.Cfg.MaxUploadBytes)
	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, d.JWT, refreshRepo, d.Cfg)
	adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)

	authMw := middlewares.NewAuthMiddleware(d.JWT)

	publicLimiter := middlewares.NewRateLimiter(30, time.Minute)
	authLimiter := middlewares.NewRateLimiter(10, time.Minute)
	manageLimiter := middlewares.NewRateLimiter(240, time.Minute)

	// public surface: browse camps, upload files, submit registrations
	r.GET("/camps", campsHandler.ListCamps)
	r.GET("/camps/:id", campsHandler.GetCampById)

	// optional auth lets the owning manager register into unlisted camps
	r.POST("/camps/:id/registrations",
		publicLimiter.RateLimiterMiddleware(middlewares.KeyByIP),
		authMw.OptionalAuth(),
		middlewares.RequireJSON(),
		jsonBody,
		registrationsHandler.Register,
	)

	// uploads are multipart, RequireJSON stays off this route
	r.POST("/files",
		publicLimiter.RateLimiterMiddleware(middlewares.KeyByIP),
		middlewares.MaxBodyBytes(d.Cfg.MaxUploadBytes+(1<<20)),
		filesHandler.Upload,
	)

	// auth
	authGroup := r.Group("/auth")
	authGroup.Use(authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), middlewares.RequireJSON(), jsonBody)
	{
		authGroup.POST("/signup", authHandler.SignUp)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
	}

	// manager surface
	manage := r.Group("/")
	manage.Use(authMw.RequireAuth(), manageLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP))
	{
		manage.POST("/camps", middlewares.RequireJSON(), jsonBody, campsHandler.CreateCamp)
		manage.GET("/manage/camps/:id", campsHandler.GetManagedCamp)
		manage.PUT("/camps/:id", middlewares.RequireJSON(), jsonBody, campsHandler.UpdateCamp)
		manage.DELETE("/camps/:id", campsHandler.DeleteCamp)

		manage.GET("/camps/:id/registrations", registrationsHandler.ListForCamp)
		manage.GET("/camps/:id/registrations/:registrationId", registrationsHandler.GetByID)
		manage.PUT("/camps/:id/registrations/:registrationId", middlewares.RequireJSON(), jsonBody, registrationsHandler.Update)
		manage.DELETE("/camps/:id/registrations/:registrationId", registrationsHandler.Delete)
		manage.POST("/camps/:id/registrations/:registrationId/accept", registrationsHandler.Accept)

		manage.GET("/files/:fileId", filesHandler.GetMetadata)
		manage.GET("/files/:fileId/download", filesHandler.Download)
	}

	// admin surface
	admin := r.Group("/admin")
	admin.Use(authMw.RequireAuth(), authMw.RequireRole("admin"))
	{
		admin.GET("/jobs", adminJobsHandler.List)
		admin.GET("/jobs/:id", adminJobsHandler.GetByID)
		admin.POST("/jobs/:id/retry", adminJobsHandler.Retry)
		admin.POST("/jobs/reprocess-dead", adminJobsHandler.ReprocessDead)
	}

	return r
}
