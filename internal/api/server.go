// Package api implements the operator HTTP surface (component: operator
// API) — the read-only stats/trades/decisions/performance/account
// endpoints, the manual-close and reset mutations, the backtest trigger,
// and the WebSocket push channel the dashboard subscribes to.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/cache"
	"github.com/ksedatech/perp-sentinel/internal/circuit"
	"github.com/ksedatech/perp-sentinel/internal/database"
	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/exchange"
	"github.com/ksedatech/perp-sentinel/internal/execution"
	"github.com/ksedatech/perp-sentinel/internal/ledger"
	"github.com/ksedatech/perp-sentinel/internal/logging"
)

// BacktestRunner is the subset of internal/backtest's Runner the operator
// surface needs; declared here to avoid the api package importing
// backtest's replay internals.
type BacktestRunner interface {
	Start(ctx context.Context, symbol string, from, to time.Time) error
	Stop()
	Status() (running bool, progressPercent float64, summary map[string]interface{})
}

// Server wires the gin router, its dependencies, and the WebSocket hub.
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	hub        *Hub
	logger     *logging.Logger

	bus      *events.Bus
	posLedger *ledger.Ledger
	breaker  *circuit.Breaker
	client   exchange.Client
	gateway  *execution.Gateway
	recorder *database.Recorder
	repo     *database.Repository
	backtest BacktestRunner
	cacheSvc *cache.Service

	startedAt time.Time
	process   *process.Process
}

// SetCache attaches the Redis-backed cache service so /api/stats can
// report its health; optional, since the agent runs fine with caching
// disabled.
func (s *Server) SetCache(c *cache.Service) {
	s.cacheSvc = c
}

func New(
	cfg config.ServerConfig,
	bus *events.Bus,
	posLedger *ledger.Ledger,
	breaker *circuit.Breaker,
	client exchange.Client,
	gateway *execution.Gateway,
	recorder *database.Recorder,
	repo *database.Repository,
	backtest BacktestRunner,
) *Server {
	if !cfg.AuthEnabled || cfg.Host == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsCfg.AllowOrigins = []string{cfg.AllowedOrigins}
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsCfg))

	proc, _ := process.NewProcess(int32(os.Getpid()))

	s := &Server{
		cfg: cfg, router: router, hub: NewHub(), logger: logging.WithComponent("api"),
		bus: bus, posLedger: posLedger, breaker: breaker, client: client,
		gateway: gateway, recorder: recorder, repo: repo, backtest: backtest,
		startedAt: time.Now(), process: proc,
	}
	s.hub.Attach(bus)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.router.GET("/ws", s.handleWS)

	api := s.router.Group("/api")
	api.POST("/login", s.handleLogin)
	api.GET("/stats", s.handleStats)
	api.GET("/trades", s.handleTrades)
	api.GET("/decisions", s.handleDecisions)
	api.GET("/performance", s.handlePerformance)
	api.GET("/account", s.handleAccount)
	api.GET("/market/:symbol", s.handleMarketSnapshot)

	mutating := api.Group("")
	if s.cfg.AuthEnabled {
		mutating.Use(requireAuth(s.cfg.JWTSecret))
	}
	mutating.POST("/trades/:id/close", s.handleCloseTrade)
	mutating.POST("/trades/close-all", s.handleCloseAll)
	mutating.POST("/reset", s.handleReset)
	mutating.POST("/account/reset", s.handleAccountReset)
	mutating.POST("/backtest/run", s.handleBacktestRun)
	mutating.POST("/backtest/stop", s.handleBacktestStop)
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully within cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
