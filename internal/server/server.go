// Package server wires the HTTP API together: stores, services,
// middleware, and route registration.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/config"
	"github.com/jkimani/pesalock/internal/escrow"
	"github.com/jkimani/pesalock/internal/funding"
	"github.com/jkimani/pesalock/internal/gateway"
	"github.com/jkimani/pesalock/internal/health"
	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/ledger"
	"github.com/jkimani/pesalock/internal/logging"
	"github.com/jkimani/pesalock/internal/metrics"
	"github.com/jkimani/pesalock/internal/notify"
	"github.com/jkimani/pesalock/internal/ratelimit"
	"github.com/jkimani/pesalock/internal/realtime"
	"github.com/jkimani/pesalock/internal/security"
	"github.com/jkimani/pesalock/internal/user"
	"github.com/jkimani/pesalock/internal/validation"
)

// Server is the PesaLock HTTP server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db  *sql.DB // nil when running on in-memory stores
	hub *realtime.Hub

	users   *user.Service
	reader  ledger.Reader
	orders  *escrow.Service
	funding *funding.Service
	subs    notify.SubscriptionStore

	checks  *health.Registry
	limiter *ratelimit.Limiter

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a fully wired server. With DATABASE_URL set the services
// run on postgres; otherwise everything lives in a shared in-memory
// ledger, which is enough for development and tests.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		userStore  user.Store
		orderStore escrow.Store
		fundStore  funding.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to postgres", "dsn", maskDSN(cfg.DatabaseURL))

		userStore = user.NewPostgresStore(db)
		orderStore = escrow.NewPostgresStore(db)
		fundStore = funding.NewPostgresStore(db)
		s.reader = ledger.NewPostgresStore(db)
		s.subs = notify.NewPostgresSubscriptionStore(db)
	} else {
		s.logger.Info("no DATABASE_URL set, using in-memory stores")
		ml := ledger.NewMemoryLedger()
		userStore = user.NewMemoryStore(ml)
		orderStore = escrow.NewMemoryStore(ml)
		fundStore = funding.NewMemoryStore(ml)
		s.reader = ml
		s.subs = notify.NewMemorySubscriptionStore()
	}

	var gw gateway.Client
	if cfg.GatewayURL != "" {
		gw = gateway.NewHTTPClient(cfg.GatewayURL, cfg.GatewayAPIKey)
		s.logger.Info("payment gateway configured", "url", cfg.GatewayURL)
	}

	s.hub = realtime.NewHub(s.logger)

	emitter := notify.NewEmitter(s.logger,
		notify.NewLogSink(s.logger),
		notify.NewWebhookSink(s.subs),
		s.hub,
	)

	s.users = user.NewService(userStore)
	s.orders = escrow.NewService(orderStore, s.users, cfg.CommissionRate).WithEmitter(emitter)
	s.funding = funding.NewService(fundStore, s.users, s.reader, gw,
		cfg.DepositFXRate, cfg.DepositCurrency).WithEmitter(emitter)

	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", health.DBChecker(s.db))
	}

	s.limiter = ratelimit.New(ratelimit.DefaultConfig())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		logging.L(c.Request.Context()).Error("panic recovered", "error", err, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "internal server error",
		})
	}))
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(s.limiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware assigns each request an ID, echoing the client's
// X-Request-ID when present, and threads it through the context logger.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		}

		log := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("request", attrs...)
		case status >= 400:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

// identityMiddleware resolves the caller from the X-User-ID header.
// There is no authentication layer; callers are trusted to present
// their own ID, the way a reverse proxy would inject it.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "X-User-ID header is required",
			})
			return
		}

		u, err := s.users.Get(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "unknown user",
				})
				return
			}
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{
				"error":   apperr.Code(err),
				"message": err.Error(),
			})
			return
		}
		if u.Status != user.StatusActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": fmt.Sprintf("account is %s", u.Status),
			})
			return
		}

		c.Set("authUserID", u.ID)
		c.Set("authUserRole", string(u.Role))
		c.Next()
	}
}

// requireAdmin gates the admin route group. Runs after identityMiddleware.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("authUserRole") != string(user.RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin role required",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	userHandler := user.NewHandler(s.users)
	ledgerHandler := ledger.NewHandler(s.reader)
	escrowHandler := escrow.NewHandler(s.orders)
	fundingHandler := funding.NewHandler(s.funding, s.cfg.GatewaySecret)
	notifyHandler := notify.NewHandler(s.subs)

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	s.router.GET("/health/ready", func(c *gin.Context) {
		if !s.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", s.identityMiddleware(), func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request, c.GetString("authUserID"))
	})

	v1 := s.router.Group("/v1")

	// Gateway callbacks authenticate with an HMAC signature, not a user.
	fundingHandler.RegisterCallbackRoutes(v1)

	authed := v1.Group("")
	authed.Use(s.identityMiddleware())
	userHandler.RegisterRoutes(authed)
	ledgerHandler.RegisterRoutes(authed)
	escrowHandler.RegisterRoutes(authed)
	fundingHandler.RegisterRoutes(authed)
	notifyHandler.RegisterRoutes(authed)

	admin := v1.Group("/admin")
	admin.Use(s.identityMiddleware(), s.requireAdmin())
	userHandler.RegisterAdminRoutes(admin)
	ledgerHandler.RegisterAdminRoutes(admin)
	escrowHandler.RegisterAdminRoutes(admin)
	fundingHandler.RegisterAdminRoutes(admin)
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := http.StatusOK
	state := "healthy"
	if !healthy || !s.healthy.Load() {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":    state,
		"checks":    statuses,
		"websocket": s.hub.Stats(),
		"time":      time.Now().UTC(),
	})
}

// Run starts the server and blocks until the context is cancelled or a
// shutdown signal arrives.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.hub.Run(runCtx)
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.ready.Store(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	return s.Shutdown()
}

// Shutdown drains in-flight requests and releases resources.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.limiter.Stop()
	if s.db != nil {
		if closeErr := s.db.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}

	s.logger.Info("server stopped")
	return err
}

// maskDSN hides credentials in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable dsn)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
