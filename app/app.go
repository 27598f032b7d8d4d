// Package app wires the services, background jobs and HTTP routes into one
// server. main and the integration tests build the server the same way.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/moodring/server/api/rest"
	"github.com/kasuganosora/moodring/server/api/sse"
	"github.com/kasuganosora/moodring/server/audit"
	"github.com/kasuganosora/moodring/server/cache"
	"github.com/kasuganosora/moodring/server/config"
	"github.com/kasuganosora/moodring/server/feed"
	"github.com/kasuganosora/moodring/server/journal"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"github.com/kasuganosora/moodring/server/participant"
	"github.com/kasuganosora/moodring/server/proximity"
	"github.com/kasuganosora/moodring/server/scheduler"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const repairLockKey = "lock:" + apirest.RepairTask

// App holds the running server's components.
type App struct {
	Mutator     *social.Mutator
	Requests    *social.Requests
	Accounts    *participant.Service
	Journal     *journal.Service
	Feed        *feed.Aggregator
	Invalidator *feed.Invalidator
	Nearby      *proximity.Engine
	Audit       *audit.Service
	Scheduler   *scheduler.Scheduler
	Router      *gin.Engine

	cancel context.CancelFunc
}

// Options adjusts wiring for tests.
type Options struct {
	BcryptCost int // 0 selects the bcrypt default
}

// New builds the server on an opened, migrated database. Close releases
// the background workers.
func New(cfg *config.Config, db *gorm.DB, c cache.Cache, ps cache.PubSub, logger *zap.Logger, opts Options) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{cancel: cancel}

	a.Mutator = social.NewMutator(db, logger.Named("social"))
	a.Requests = social.NewRequests(db, a.Mutator, logger.Named("social"))
	a.Accounts = participant.NewService(db, a.Mutator, opts.BcryptCost, logger.Named("participant"))
	a.Journal = journal.NewService(db, a.Mutator, ps, logger.Named("journal"))

	var feedCache cache.Cache
	if cfg.Feed.CacheTTL > 0 {
		feedCache = c
	}
	a.Feed = feed.NewAggregator(a.Mutator, a.Journal, feedCache, feed.Config{
		PerAuthorLimit: cfg.Feed.PerAuthorLimit,
		MaxConcurrency: cfg.Feed.MaxConcurrency,
		CacheTTL:       cfg.Feed.CacheTTL,
	}, logger.Named("feed"))
	a.Nearby = proximity.NewEngine(a.Journal, a.Mutator, proximity.Config{
		MaxRadiusKm:    cfg.Proximity.MaxRadiusKm,
		MaxConcurrency: cfg.Proximity.MaxConcurrency,
	}, logger.Named("proximity"))

	a.Audit = audit.New(db, logger.Named("audit"))
	a.Invalidator = feed.NewInvalidator(c, a.Mutator, logger.Named("feed"))
	a.Mutator.Observe(a.Invalidator, a.Audit)
	if err := a.Invalidator.Start(ctx, ps); err != nil {
		a.Close()
		return nil, err
	}

	a.Scheduler = scheduler.New(logger.Named("scheduler"))
	if cfg.Repair.Interval > 0 {
		a.Scheduler.AddTicker(apirest.RepairTask, cfg.Repair.Interval,
			scheduler.Exclusive(c, repairLockKey, cfg.Repair.LockTTL, logger, a.repair(logger)))
	}

	router, err := a.routes(ctx, cfg, c, ps, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Router = router
	return a, nil
}

func (a *App) repair(logger *zap.Logger) scheduler.TaskFn {
	return func(ctx context.Context) error {
		start := time.Now()
		n, err := a.Mutator.RepairAll(ctx)
		logger.Info("counter repair finished",
			zap.Int("repaired", n),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return err
	}
}

func (a *App) routes(ctx context.Context, cfg *config.Config, c cache.Cache, ps cache.PubSub, logger *zap.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger.Named("http")), mw.Recovery(logger))
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var limiter gin.HandlerFunc
	if cfg.Security.RateLimitRPS > 0 {
		limiter = mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)
	}
	h := apirest.Handlers{
		Auth:        apirest.NewAuthHandler(a.Accounts, c, cfg.Security, logger),
		Participant: apirest.NewParticipantHandler(a.Accounts, c, logger),
		Social:      apirest.NewSocialHandler(a.Requests, a.Mutator),
		Mood:        apirest.NewMoodHandler(a.Journal),
		Feed:        apirest.NewFeedHandler(a.Feed, a.Nearby, cfg.Proximity.DefaultRadiusKm, logger),
		Admin:       apirest.NewAdminHandler(a.Mutator, a.Scheduler, a.Audit, logger),
	}
	if err := apirest.Mount(r, h, cfg, c, limiter, logger); err != nil {
		return nil, err
	}
	stream := sse.NewHandler(ps, a.Mutator, c, cfg.Security, logger.Named("sse"))
	r.GET("/api/feed/stream", stream.ServeSSE)
	return r, nil
}

// Close stops the background workers and flushes the audit queue.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.cancel()
	if a.Audit != nil {
		a.Audit.Stop()
	}
}
