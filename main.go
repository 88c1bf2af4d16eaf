package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"scheduling-engine/config"
	"scheduling-engine/monitoring"
	"scheduling-engine/services"
	"scheduling-engine/store"
	"scheduling-engine/utils"
)

func main() {
	cfg := config.LoadConfig()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Environment == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	var st store.Store
	if cfg.EngineDSN != "" {
		// The SQL driver named by ENGINE_DRIVER must be linked into the
		// binary that embeds this engine.
		db, err := dbx.Open(cfg.EngineDriver, cfg.EngineDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		defer db.Close()
		if err := store.Migrate(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("apply schema")
		}
		st = store.NewSQLStore(db)
		log.Info().Str("driver", cfg.EngineDriver).Msg("using SQL store")
	} else {
		st = store.NewMemoryStore()
		log.Info().Msg("using in-process memory store")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to redis")
		}
		if err := utils.RedisHealthCheck(client); err != nil {
			log.Fatal().Err(err).Msg("redis health check")
		}
		redisClient = client
		defer redisClient.Close()
		log.Info().Msg("redis sweep lock enabled")
	}

	monitor := monitoringSetup(cfg, log)

	capacity := services.NewCapacityService(st, monitor, log)
	deps := services.NewDependencyService(st, nil, cfg.DependencyMaxDepth, cfg.DefaultGracePeriod, log)
	conflicts := services.NewConflictService(st, deps, monitor, cfg.AutoNudgeTolerance, cfg.SweepChunkConcurrency, log)
	breaker := utils.NewBreaker("auto-resolve", cfg.ResolveFailureLimit, cfg.ResolveCoolOff)
	resolution := services.NewResolutionService(st, capacity, monitor, cfg.AutoNudgeTolerance, breaker, log)

	sweeper := services.NewSweeper(conflicts, resolution, redisClient, cfg, log)
	sweeper.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	sweeper.Shutdown(30 * time.Second)
	log.Info().Msg("shutdown complete")
}

func monitoringSetup(cfg *config.Config, log zerolog.Logger) *monitoring.Monitor {
	monitor := monitoring.NewMonitor()
	if cfg.EnableMetrics {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := ":" + cfg.MetricsPort
			log.Info().Str("addr", addr).Msg("metrics listener started")
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}
	return monitor
}
