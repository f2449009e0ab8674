package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"moff.io/snap-bridge/internal/bridge"
	"moff.io/snap-bridge/internal/config"
	"moff.io/snap-bridge/pkg/concurrent"
	"moff.io/snap-bridge/pkg/log"
	"moff.io/snap-bridge/pkg/log/middleware"
	"moff.io/snap-bridge/pkg/snaprelay"
)

// Pairer exposes how a companion page joins the relay session.
type Pairer interface {
	Pairing() *snaprelay.Pairing
	PairingQRCode() ([]byte, error)
}

// Limiter decides whether a caller may run a workflow now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// Server exposes the bridge workflows over HTTP.
type Server struct {
	bridge  *bridge.Bridge
	pairer  Pairer
	limiter Limiter
	audit   *gorm.DB

	// inflight bounds workflows running at once; extra callers get 503 instead of queueing.
	inflight concurrent.Limiter

	addr    string
	timeout time.Duration
	engine  *gin.Engine
}

const defaultMaxInFlight = 64

type Option func(*Server)

func WithPairer(p Pairer) Option {
	return func(s *Server) { s.pairer = p }
}

func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithMaxInFlight caps concurrently running workflow requests.
func WithMaxInFlight(n int) Option {
	return func(s *Server) { s.inflight = concurrent.NewLimiter(n) }
}

// WithAudit enables the action history endpoint.
func WithAudit(db *gorm.DB) Option {
	return func(s *Server) { s.audit = db }
}

func NewServer(b *bridge.Bridge, opts ...Option) *Server {
	s := &Server{
		bridge:  b,
		addr:    config.DefaultHTTPAddr,
		timeout: config.DefaultHTTPTimeout,

		inflight: concurrent.NewLimiter(defaultMaxInFlight),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Apply picks the listen address and request timeout from the configuration.
func (s *Server) Apply(conf *config.Configuration) {
	if conf.HTTPAddr != "" {
		s.addr = conf.HTTPAddr
	}
	if conf.HTTPTimeout > 0 {
		s.timeout = conf.HTTPTimeout
		s.engine = s.routes()
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("http - shutdown:%v", err)
		}
	}()
	go func() {
		log.Infof("http - listening on %v", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(), middleware.TimeoutHTTP(s.timeout))

	router.GET("/hello", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"hello": "world"})
	})
	router.GET("/session", s.getSession)
	router.GET("/session/events", s.streamSession)

	snapGroup := router.Group("/snap")
	snapGroup.GET("/pairing", s.getPairing)
	snapGroup.GET("/pairing.png", s.getPairingQRCode)
	snapGroup.POST("/connect", s.limited("connect"), s.connect)
	snapGroup.POST("/keyring", s.limited("keyring"), s.initKeyring)

	router.GET("/network", s.getNetwork)
	router.POST("/network/switch", s.limited("network"), s.switchNetwork)
	router.POST("/provider", s.limited("provider"), s.ensureProvider)

	accounts := router.Group("/accounts")
	accounts.GET("", s.listAccounts)
	accounts.POST("", s.limited("accounts"), s.createAccount)
	accounts.POST("/seed", s.limited("accounts"), s.createSeed)
	accounts.POST("/import", s.limited("accounts"), s.importAccounts)
	accounts.DELETE("/:address", s.limited("accounts"), s.deleteAccount)
	accounts.POST("/select/:address", s.limited("accounts"), s.selectAccount)
	accounts.GET("/raw", s.getAllAccounts)

	router.POST("/signer", s.limited("signer"), s.buildSigner)
	router.POST("/sign", s.limited("sign"), s.signRaw)
	router.POST("/contract/flip", s.limited("contract"), s.flip)
	router.GET("/contract/value", s.getValue)

	store := router.Group("/store")
	store.DELETE("", s.clearStores)
	store.PUT("/:key", s.setStore)
	store.GET("/:key", s.getStore)
	store.DELETE("/:key", s.removeStore)

	metadata := router.Group("/metadata")
	metadata.GET("", s.listMetadata)
	metadata.GET("/all", s.getAllMetadata)
	metadata.POST("", s.limited("metadata"), s.updateMetadata)

	router.GET("/actions", s.listActions)
	return router
}

// limited guards a workflow route with the in-flight bound and, when configured, the rate limiter.
func (s *Server) limited(name string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !s.inflight.TryAdd() {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code": codeBusy,
				"msg":  "too many workflows in flight",
			})
			return
		}
		defer s.inflight.Done()
		if s.limiter == nil {
			ctx.Next()
			return
		}
		allowed, retryAfter, err := s.limiter.Allow(ctx.Request.Context(), name+":"+ctx.ClientIP())
		if err != nil {
			log.Warnf("http - rate limiter unavailable:%v", err)
			ctx.Next()
			return
		}
		if !allowed {
			ctx.Header("Retry-After", retryAfterSeconds(retryAfter))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": codeTooManyRequests,
				"msg":  "too many requests",
			})
			return
		}
		ctx.Next()
	}
}
