package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"clearci/pkg/api/middleware"
	"clearci/pkg/auth"
	"clearci/pkg/coordination"
	"clearci/pkg/logger"
	"clearci/pkg/storage"
)

// Server is the HTTP control plane: job CRUD, manual triggers, execution
// history, build logs, and cluster introspection.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	jobStore    storage.JobStore
	execStore   storage.ExecutionStore
	queue       storage.Queue
	coordinator coordination.Coordinator
	logStore    storage.LogStore

	leaderElection coordination.Election
	validator      *middleware.Validator

	requireOperator gin.HandlerFunc
	requireAdmin    gin.HandlerFunc
}

// Config holds API server configuration.
type Config struct {
	Port      string
	JWTSecret string

	JobStore    storage.JobStore
	ExecStore   storage.ExecutionStore
	Queue       storage.Queue
	Coordinator coordination.Coordinator
	LogStore    storage.LogStore
	APIKeys     auth.APIKeyStore
}

// NewServer creates the API server with all dependencies wired.
func NewServer(cfg Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware stack, order matters: recovery outermost, then request
	// identity, observability, and finally throttling.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())
	router.Use(middleware.Tracing("clearci-api"))
	router.Use(requestLogger())
	router.Use(middleware.RateLimit())
	router.Use(middleware.BodySizeLimit(1 << 20))

	s := &Server{
		router:      router,
		jobStore:    cfg.JobStore,
		execStore:   cfg.ExecStore,
		queue:       cfg.Queue,
		coordinator: cfg.Coordinator,
		logStore:    cfg.LogStore,
		validator:   middleware.NewValidator(middleware.DefaultValidatorConfig()),
	}

	if cfg.Coordinator != nil {
		s.leaderElection = cfg.Coordinator.NewElection(coordination.SchedulerElection)
	}

	// Authentication is optional for single-user installs. When neither a
	// JWT secret nor an API key store is configured, every request passes
	// and role gates are no-ops.
	passthrough := func(c *gin.Context) { c.Next() }
	s.requireOperator = passthrough
	s.requireAdmin = passthrough

	authn := gin.HandlerFunc(nil)
	if cfg.JWTSecret != "" || cfg.APIKeys != nil {
		authCfg := middleware.AuthConfig{APIKeyStore: cfg.APIKeys}
		if cfg.JWTSecret != "" {
			jwtCfg := auth.DefaultJWTConfig()
			jwtCfg.SecretKey = cfg.JWTSecret
			svc, err := auth.NewJWTService(jwtCfg)
			if err != nil {
				return nil, err
			}
			authCfg.JWTService = svc
		}
		authn = middleware.Auth(authCfg)
		s.requireOperator = middleware.RequireRole(auth.RoleOperator)
		s.requireAdmin = middleware.RequireRole(auth.RoleAdmin)
	} else {
		logger.Warn("api authentication disabled, set CLEARCI_JWT_SECRET to enable")
	}

	s.registerRoutes(authn)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests. It blocks until the server
// stops.
func (s *Server) Start() error {
	logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints. Reads need any authenticated
// user, writes need operator, deletes need admin.
func (s *Server) registerRoutes(authn gin.HandlerFunc) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	if authn != nil {
		v1.Use(authn)
	}

	jobs := v1.Group("/jobs")
	{
		jobs.POST("", s.requireOperator, s.createJob)
		jobs.GET("", s.listJobs)
		jobs.GET("/:id", s.getJob)
		jobs.PATCH("/:id", s.requireOperator, s.updateJob)
		jobs.DELETE("/:id", s.requireAdmin, s.deleteJob)
		jobs.POST("/:id/pause", s.requireOperator, s.pauseJob)
		jobs.POST("/:id/resume", s.requireOperator, s.resumeJob)
		jobs.POST("/:id/trigger", s.requireOperator, s.triggerJob)
		jobs.GET("/:id/executions", s.listJobExecutions)
	}

	executions := v1.Group("/executions")
	{
		executions.GET("/:id", s.getExecution)
		executions.GET("/:id/log", s.getExecutionLog)
		executions.POST("/:id/cancel", s.requireOperator, s.cancelExecution)
	}

	cluster := v1.Group("/cluster")
	{
		cluster.GET("/nodes", s.listNodes)
		cluster.GET("/leader", s.getLeader)
	}
}

// requestLogger logs each request at debug level with its correlation ID.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

// healthCheck probes each backing service with a short deadline. Degraded
// reports 503 so load balancers stop routing here.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]bool)

	if s.jobStore != nil {
		_, err := s.jobStore.ListJobs(ctx, 1, 0)
		deps["database"] = err == nil
	}
	if s.queue != nil {
		_, err := s.queue.Depth(ctx)
		deps["redis"] = err == nil
	}
	if s.coordinator != nil {
		_, err := s.coordinator.GetActiveNodes(ctx)
		deps["etcd"] = err == nil
	}

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
