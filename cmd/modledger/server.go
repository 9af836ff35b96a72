package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sushiibot/modledger/modlog/actor"
	"github.com/sushiibot/modledger/modlog/audit"
	"github.com/sushiibot/modledger/modlog/cachestore"
	"github.com/sushiibot/modledger/modlog/community"
	"github.com/sushiibot/modledger/modlog/executor"
	"github.com/sushiibot/modledger/modlog/expiry"
	"github.com/sushiibot/modledger/modlog/failures"
	"github.com/sushiibot/modledger/modlog/ledger"
	"github.com/sushiibot/modledger/modlog/mutes"
	"github.com/sushiibot/modledger/modlog/reconcile"
	"github.com/sushiibot/modledger/util"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// registered once per process
var requestMetrics = echoprometheus.NewMiddleware("modledger")

// Gateway is everything the daemon needs from the platform.
type Gateway interface {
	actor.Actor
	actor.Directory
	actor.Messenger
	audit.Poster
}

type Config struct {
	Logger *slog.Logger

	// requests per second against the actor API; zero disables limiting
	GatewayRateLimit float64
	RedisURL         string
	ConfigCacheTTL   time.Duration
	SlackWebhookURL  string

	ExpiryInterval    time.Duration
	UnmuteMaxAttempts int

	BotName       string
	CommandPrefix string
}

type Server struct {
	logger *slog.Logger
	db     *gorm.DB

	ledger   *ledger.Ledger
	mutes    *mutes.Store
	failures *failures.Store
	configs  *community.CachedProvider

	reporter   *audit.Reporter
	executor   *executor.Executor
	reconciler *reconcile.Reconciler
	scanner    *expiry.Scanner

	echo *echo.Echo
}

func NewServer(db *gorm.DB, gw Gateway, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := ledger.New(db, logger)
	ms := mutes.NewStore(db, logger)
	fs := failures.NewStore(db, logger)
	if config.UnmuteMaxAttempts > 0 {
		fs.MaxAttempts = config.UnmuteMaxAttempts
	}
	source := community.NewGormSource(db)
	for _, m := range []interface{ Migrate() error }{l, ms, fs, source} {
		if err := m.Migrate(); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}

	ttl := config.ConfigCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	var cache cachestore.CacheStore
	if config.RedisURL != "" {
		rcache, err := cachestore.NewRedisCacheStore(context.TODO(), config.RedisURL, ttl)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %v", err)
		}
		cache = rcache
	} else {
		cache = cachestore.NewMemCacheStore(10_000, ttl)
	}
	cached := community.NewCachedProvider(source, cache, logger)

	var act actor.Actor = gw
	if config.GatewayRateLimit > 0 {
		act = actor.NewRateLimited(gw, config.GatewayRateLimit, max(int(config.GatewayRateLimit), 1))
	}

	reporter := &audit.Reporter{
		Logger:        logger,
		Ledger:        l,
		Poster:        gw,
		Configs:       cached,
		Directory:     gw,
		BotName:       config.BotName,
		CommandPrefix: config.CommandPrefix,
	}
	if config.SlackWebhookURL != "" {
		reporter.Notifier = &audit.SlackNotifier{
			SlackWebhookURL: config.SlackWebhookURL,
			Client:          util.RobustHTTPClient(),
		}
	}

	srv := &Server{
		logger:   logger,
		db:       db,
		ledger:   l,
		mutes:    ms,
		failures: fs,
		configs:  cached,
		reporter: reporter,
		executor: &executor.Executor{
			Logger:    logger,
			Ledger:    l,
			Mutes:     ms,
			Actor:     act,
			Directory: gw,
			Messenger: gw,
			Configs:   cached,
			Reporter:  reporter,
		},
		reconciler: &reconcile.Reconciler{
			Logger:    logger,
			Ledger:    l,
			Mutes:     ms,
			Actor:     act,
			Configs:   cached,
			Messenger: gw,
			Reporter:  reporter,
		},
		scanner: &expiry.Scanner{
			Logger:   logger,
			Mutes:    ms,
			Failures: fs,
			Ledger:   l,
			Actor:    act,
			Configs:  cached,
			Reporter: reporter,
			Interval: config.ExpiryInterval,
		},
	}
	srv.echo = srv.newEcho()
	return srv, nil
}

func (srv *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(srv.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(requestMetrics)
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)
	e.POST("/v1/actions", srv.HandleExecute)
	e.POST("/v1/events/member-update", srv.HandleMemberUpdate)
	e.POST("/v1/events/member-join", srv.HandleMemberJoin)
	e.GET("/v1/communities/:community/cases", srv.HandleCaseRange)
	e.GET("/v1/communities/:community/cases/latest", srv.HandleLatestCases)
	e.GET("/v1/communities/:community/members/:target/cases", srv.HandleTargetHistory)
	e.POST("/v1/communities/:community/cases/reason", srv.HandleAmendReason)
	e.POST("/v1/communities/:community/config/invalidate", srv.HandleInvalidateConfig)
	e.POST("/v1/expiry/tick", srv.HandleExpiryTick)
	return e
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Run serves the API and runs the expiry scanner until the context is cancelled or either fails.
func (srv *Server) Run(ctx context.Context, bind string) error {
	httpd := &http.Server{
		Handler:        srv,
		Addr:           bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		srv.logger.Info("starting api server", "bind", bind)
		if err := httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return srv.scanner.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		srv.logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpd.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}
