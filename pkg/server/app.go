package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"net"
	"strconv"

	"RatingFlow/internal/handler/api"
	icache "RatingFlow/internal/service/cache"
	"RatingFlow/internal/usecase"
	pcache "RatingFlow/pkg/cache"
	pkgch "RatingFlow/pkg/clickhouse"
	"RatingFlow/pkg/config"
	xhttp "RatingFlow/pkg/http"
	pkgkafka "RatingFlow/pkg/kafka"
	applogger "RatingFlow/pkg/logger"
	"RatingFlow/pkg/queue"

	"github.com/redis/go-redis/v9"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	collector   *usecase.ObservationCollector
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	chClient    *pkgch.Client
	svc         *usecase.AnalysisService
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	jobQueue    *queue.RedisQueue
	ObsProc     *usecase.ObservationProcessor
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	collector *usecase.ObservationCollector,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	svc *usecase.AnalysisService,
) *App {
	return &App{
		cfg:       cfg,
		collector: collector,
		consumer:  consumer,
		kh:        kh,
		chClient:  chClient,
		svc:       svc,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init app logger (console info by default)
	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})

	// Cache for analysis responses and job status: Redis when configured,
	// in-process TTL cache otherwise.
	var respCache icache.BytesCache
	if a.cfg.Analysis.Redis.Enabled {
		respCache = icache.NewRedisCache(icache.RedisConfig{
			Addr:     a.cfg.Analysis.Redis.Addr,
			Password: a.cfg.Analysis.Redis.Password,
			DB:       a.cfg.Analysis.Redis.DB,
		})
	} else {
		respCache = icache.NewTTLCache()
	}
	if a.svc != nil {
		a.svc.SetCache(respCache)
		a.svc.SetLogger(l)
		a.svc.SetCohortCache(a.buildCohortCache(l))
	}

	// Setup Echo HTTP server using pkg/http and register routes via handler
	var httpHandler xhttp.Handler
	if a.httpHandler != nil {
		httpHandler = a.httpHandler
	} else {
		eh := api.NewAnalysisEchoHandler(l, a.svc, a.collector.Processor())
		if a.cfg.Analysis.Jobs.Enabled && a.cfg.Analysis.Redis.Enabled {
			rdb := redis.NewClient(&redis.Options{
				Addr:     a.cfg.Analysis.Redis.Addr,
				Password: a.cfg.Analysis.Redis.Password,
				DB:       a.cfg.Analysis.Redis.DB,
			})
			a.jobQueue = queue.NewRedisQueue(l, &queue.QueueConfig{
				Workers:    a.cfg.Analysis.Jobs.Workers,
				QueueSize:  a.cfg.Analysis.Jobs.QueueSize,
				RetryLimit: a.cfg.Analysis.Jobs.RetryLimit,
				RetryDelay: a.cfg.Analysis.Jobs.RetryDelay,
			}, rdb, queue.ModeProducerConsumer)
			a.jobQueue.RegisterJob(usecase.NewAnalysisJob(a.svc, respCache, l))
			if err := a.jobQueue.Start(); err != nil {
				l.Error("job queue start error", applogger.Error(err))
			} else {
				eh.SetJobQueue(a.jobQueue, respCache)
			}
		}
		httpHandler = eh
	}

	a.httpServer = xhttp.NewServer(httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Start collector
	go func() {
		if err := a.collector.Start(ctx); err != nil {
			l.Error("collector error", applogger.Error(err))
		}
	}()
	l.Info("collector started", applogger.Strings("cohorts", a.cfg.Feed.Cohorts))

	// Start consumer if configured
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// buildCohortCache builds the record cache for loaded cohorts: a layered
// memory+Redis cache when Redis is configured, memory-only otherwise.
func (a *App) buildCohortCache(l *applogger.Logger) pcache.Service {
	if a.cfg.Analysis.Redis.Enabled {
		host, portStr, err := net.SplitHostPort(a.cfg.Analysis.Redis.Addr)
		if err == nil {
			port, _ := strconv.Atoi(portStr)
			rc, err := pcache.NewRedisCache(
				pcache.WithRedisHost(host),
				pcache.WithRedisPort(port),
				pcache.WithRedisPassword(a.cfg.Analysis.Redis.Password),
				pcache.WithRedisDB(a.cfg.Analysis.Redis.DB),
			)
			if err == nil {
				return pcache.NewLayeredCache(rc)
			}
			l.Warn("redis cohort cache unavailable, using memory", applogger.Error(err))
		}
	}
	return pcache.NewMemoryCache()
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l, err := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	if err != nil {
		log.Printf("failed to create logger: %v", err)
		return err
	}
	l.Info("shutting down...")

	// Stop collector (pipeline + stream)
	if err := a.collector.Shutdown(ctx); err != nil {
		l.Warn("collector stop error", applogger.Error(err))
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Stop job queue workers
	if a.jobQueue != nil {
		if err := a.jobQueue.Stop(shutdownCtx); err != nil {
			l.Warn("job queue stop error", applogger.Error(err))
		}
	}

	// Close infrastructure clients
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	// Stop consumer
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Close processor resources (publisher/store)
	if a.ObsProc != nil {
		a.ObsProc.Close()
	}

	l.Info("shutdown complete")
	return nil
}
