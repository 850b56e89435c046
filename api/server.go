// Package api exposes the registry over HTTP.
package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/terrahash/landregistry/api/responses"
	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/internal/events"
	"github.com/terrahash/landregistry/internal/identities"
	"github.com/terrahash/landregistry/internal/listings"
	"github.com/terrahash/landregistry/internal/objections"
	"github.com/terrahash/landregistry/internal/parcels"
	"github.com/terrahash/landregistry/internal/storage"
	"github.com/terrahash/landregistry/internal/transactions"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/metrics"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/pkg/validation"
)

const defaultRateLimit = "60-M"

var (
	errRateLimited = errors.Status(http.StatusTooManyRequests, "RATE_LIMITED").Explain("Too many requests, please slow down")
	errInvalidBody = errors.Invalid.Reason("INVALID_JSON").Explain("Invalid request body")
	errUnavailable = errors.Unavailable.Explain("This feature is not configured")
)

// Services are the domain services served by the API. Uploader and Hub may be nil.
type Services struct {
	DB           *gorm.DB
	Identities   *identities.Service
	Parcels      *parcels.Service
	Listings     *listings.Service
	Transactions *transactions.Service
	Objections   *objections.Service
	Uploader     storage.Uploader
	Hub          *events.Hub
	// Validator checks request bodies; nil builds a default one
	Validator *validation.Validator
	// LimiterStore shares rate limit counters between replicas; nil keeps them in memory
	LimiterStore limiter.Store
	// LedgerEnabled is reported by the health check
	LedgerEnabled bool
}

// Server represents the API server
type Server struct {
	cfg       config.ServerConfig
	svc       Services
	router    *gin.Engine
	validator *validation.Validator
	logger    *zap.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, tracingName string, svc Services, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, svc: svc, validator: svc.Validator, logger: logger.Named("api")}
	if s.validator == nil {
		s.validator = validation.NewValidator(logger)
	}

	limit, err := s.rateLimiter()
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	if tracingName != "" {
		router.Use(otelgin.Middleware(tracingName))
	}
	router.Use(cors.New(s.corsConfig()))
	router.Use(metricsMiddleware())

	s.router = router
	s.registerRoutes(limit)
	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// HTTPServer wraps the router with the configured timeouts
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	return cfg
}

// rateLimiter throttles auth calls and every write per client IP.
func (s *Server) rateLimiter() (gin.HandlerFunc, error) {
	formatted := s.cfg.RateLimit
	if formatted == "" {
		formatted = defaultRateLimit
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate limit %q: %w", formatted, err)
	}
	store := s.svc.LimiterStore
	if store == nil {
		store = memory.NewStore()
	}
	mw := ginlimiter.NewMiddleware(limiter.New(store, rate),
		ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
			responses.Error(c, s.logger, errRateLimited)
		}),
		ginlimiter.WithErrorHandler(func(c *gin.Context, err error) {
			responses.Error(c, s.logger, err)
		}),
	)
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			if !strings.HasPrefix(c.Request.URL.Path, "/api/auth/") {
				c.Next()
				return
			}
		}
		mw(c)
	}, nil
}

func (s *Server) registerRoutes(limit gin.HandlerFunc) {
	api := s.router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.GET("/ws/events", s.events)

	api.Use(limit)

	auth := api.Group("/auth")
	{
		auth.GET("/check-wallet", s.checkWallet)
		auth.POST("/register", s.register)
		auth.POST("/login", s.login)
		auth.POST("/logout", s.logout)
		auth.GET("/session", s.session)
		auth.GET("/me", s.requireSession(), s.me)
	}

	gov := s.requireType(models.UserGov)
	public := s.requireType(models.UserPublic)
	root := s.requireType(models.UserRoot)

	api.GET("/public-lists", s.publicList)

	parcels := api.Group("/parcels")
	{
		parcels.GET("", s.listParcels)
		parcels.GET("/:parcel_id", s.getParcel)
		parcels.POST("", s.requireSession(), gov, s.createParcel)
		parcels.PATCH("/:parcel_id", s.requireSession(), gov, s.updateParcel)
		parcels.PATCH("/:parcel_id/status", s.requireSession(), gov, s.setParcelStatus)
		parcels.DELETE("/:parcel_id", s.requireSession(), gov, s.deleteParcel)
	}

	listings := api.Group("/listings", s.requireSession())
	{
		listings.GET("", s.myListings)
		listings.POST("", s.createListing)
		listings.GET("/gov", gov, s.govListings)
		listings.PATCH("/:listing_id", public, s.updateListing)
		listings.DELETE("/:listing_id", public, s.deleteListing)
	}

	txs := api.Group("/transactions", s.requireSession())
	{
		txs.GET("", s.myTransactions)
		txs.GET("/gov", gov, s.govTransactions)
		txs.GET("/:transaction_id", s.getTransaction)
		txs.POST("/purchase", public, s.purchase)
		txs.POST("/initiate", public, s.initiate)
		txs.PUT("/:transaction_id/complete", s.completeTransaction)
		txs.PUT("/:transaction_id/fail", s.failTransaction)
	}

	objs := api.Group("/objections", s.requireSession())
	{
		objs.POST("", public, s.createObjection)
		objs.GET("/mine", s.myObjections)
		objs.GET("/gov", gov, s.govObjections)
		objs.PUT("/:objection_id/status", gov, s.setObjectionStatus)
	}

	wl := api.Group("/wallet/whitelists", s.requireSession(), root)
	{
		wl.GET("", s.listWhitelists)
		wl.POST("", s.addGovUser)
		wl.PATCH("", s.setWhitelistStatus)
	}

	api.POST("/upload", s.requireSession(), s.upload)
}

// metricsMiddleware records HTTP request counts and durations for Prometheus
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(path, method, fmt.Sprintf("%d", c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
	}
}

// bind decodes the JSON body into dst
func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		responses.Error(c, s.logger, errInvalidBody.WithField("json", "body", err.Error()))
		return false
	}
	if err := s.validator.ValidateStruct(dst); err != nil {
		responses.Error(c, s.logger, err)
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	responses.Error(c, s.logger, err)
}
