// Package app wires configuration into the running service. Both the HTTP
// server and the CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/cache"
	"www.github.com/Wanderer0074348/VirtualTutor/src/chat"
	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
	"www.github.com/Wanderer0074348/VirtualTutor/src/dispatch"
	"www.github.com/Wanderer0074348/VirtualTutor/src/handlers"
	"www.github.com/Wanderer0074348/VirtualTutor/src/inference"
	"www.github.com/Wanderer0074348/VirtualTutor/src/metrics"
	"www.github.com/Wanderer0074348/VirtualTutor/src/middleware"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
	"www.github.com/Wanderer0074348/VirtualTutor/src/router"
	"www.github.com/Wanderer0074348/VirtualTutor/src/session"
	"www.github.com/Wanderer0074348/VirtualTutor/src/throttle"
)

type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Redis       *redis.Client
	Sessions    *session.Registry
	Chains      *router.ChainRouter
	Dispatcher  *dispatch.Dispatcher
	Transcripts models.TranscriptStore
	Speaker     models.Speaker
	Cache       *cache.Backend

	closers []func() error
}

// Options lets tests swap the outbound HTTP client.
type Options struct {
	HTTPClient *http.Client
}

func Build(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	if cfg.UsesRedis() {
		client, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		logger.Info("redis connected", zap.String("address", cfg.Redis.Address))
	}

	backend, err := cache.NewFactory(&cfg.Cache, a.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = backend
	a.closers = append(a.closers, a.Cache.Close)
	if a.Cache.Stats != nil {
		a.Metrics.RegisterCounter("cache_hits_total", "Completion cache hits.", func() float64 {
			hits, _ := a.Cache.Stats()
			return float64(hits)
		})
		a.Metrics.RegisterCounter("cache_misses_total", "Completion cache misses.", func() float64 {
			_, misses := a.Cache.Stats()
			return float64(misses)
		})
	}

	a.Transcripts, err = chat.NewStore(&cfg.Transcript, a.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	targets, err := inference.BuildTargets(cfg, opts.HTTPClient)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Chains = router.NewChainRouter(targets)
	for i, t := range targets {
		logger.Info("fallback target ready", zap.Int("position", i), zap.String("name", t.Name), zap.String("model", t.Model))
	}

	a.Dispatcher = dispatch.New(cfg.Fallback, cfg.Timeouts,
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithObserver(a.Metrics),
	)

	a.Sessions = session.NewRegistry(
		throttle.Config{Cooldown: cfg.Throttle.Cooldown, MaxCalls: cfg.Throttle.MaxCalls},
		a.Cache.New,
		session.WithIdleTTL(cfg.Session.IdleTTL),
		session.WithLogger(logger.Named("sessions")),
	)
	a.Metrics.RegisterGauge("sessions_active", "Number of live sessions.", func() float64 {
		return float64(a.Sessions.Len())
	})

	if cfg.Speech.Enabled {
		a.Speaker = inference.NewSpeechClient(&cfg.Speech, opts.HTTPClient)
		logger.Info("speech enabled", zap.String("model", cfg.Speech.Model), zap.String("voice", cfg.Speech.Voice))
	}

	return a, nil
}

// Engine builds the gin router with every API route.
func (a *App) Engine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(a.Logger))
	r.Use(middleware.AccessLog(a.Logger.Named("http"), a.Metrics, "/api/v1/health", "/metrics"))
	r.Use(middleware.CORS(a.Config.Server.AllowedOrigins))
	r.Use(middleware.RateLimit(a.Config.Server.RateLimitRPS, a.Config.Server.RateLimitBurst, "/api/v1/health", "/metrics"))

	chatHandler := handlers.NewChatHandler(a.Sessions, a.Transcripts, a.Logger)
	inferenceHandler := handlers.NewInferenceHandler(
		a.Sessions,
		a.Chains,
		a.Dispatcher,
		a.Transcripts,
		a.Config.Session.HistoryTurns,
		a.Logger,
	)
	speechHandler := handlers.NewSpeechHandler(a.Speaker, a.Logger)

	health := handlers.NewHealthHandler(a.Chains, a.Sessions)
	if a.Redis != nil {
		health.AddCheck("redis", func(c *gin.Context) error {
			return a.Redis.Ping(c.Request.Context()).Err()
		})
	}

	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", health.HealthCheck)

		v1.POST("/sessions", chatHandler.CreateSession)
		v1.GET("/sessions", chatHandler.ListSessions)
		v1.GET("/sessions/:id", chatHandler.GetSession)
		v1.DELETE("/sessions/:id", chatHandler.DeleteSession)
		v1.GET("/sessions/:id/transcript", chatHandler.GetTranscript)
		v1.GET("/sessions/:id/transcript/messages/:index/image", chatHandler.GetTranscriptImage)
		v1.POST("/sessions/:id/dispatch", inferenceHandler.HandleDispatch)

		v1.POST("/speech", speechHandler.HandleSpeech)
	}

	return r
}

// RunSweeper expires idle sessions, their transcripts and stale cache rows
// until ctx is done.
func (a *App) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *App) sweep(ctx context.Context) {
	if a.Cache.Expirer != nil {
		if n, err := a.Cache.Expirer.PurgeExpired(ctx); err != nil {
			a.Logger.Warn("failed to purge expired cache entries", zap.Error(err))
		} else if n > 0 {
			a.Logger.Info("purged expired cache entries", zap.Int64("count", n))
		}
	}

	before := make(map[string]bool)
	for _, s := range a.Sessions.List() {
		before[s.SessionID] = true
	}
	if a.Sessions.Sweep(ctx) == 0 {
		return
	}
	for _, s := range a.Sessions.List() {
		delete(before, s.SessionID)
	}
	for id := range before {
		if err := a.Transcripts.Delete(ctx, id); err != nil {
			a.Logger.Warn("failed to delete transcript", zap.String("session", id), zap.Error(err))
		}
	}
}

// Close releases shared backends in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
