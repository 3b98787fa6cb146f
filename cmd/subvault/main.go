package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/subvault/subvault/pkg/coordinator"
	"github.com/subvault/subvault/pkg/events"
	"github.com/subvault/subvault/pkg/logging"
	"github.com/subvault/subvault/pkg/metrics"
	"github.com/subvault/subvault/pkg/reddit"
	"github.com/subvault/subvault/pkg/store"
)

func main() {
	// Configuration from environment
	subreddit := getEnv("SUBVAULT_SUBREDDIT", "")
	days := getEnvInt("SUBVAULT_DAYS", 7)
	workers := getEnvInt("SUBVAULT_WORKERS", 4)
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	port := getEnv("PORT", "8080")
	userAgent := getEnv("USER_AGENT", "subvault/0.1.0")
	logLevel := getEnv("LOG_LEVEL", "info")
	logPretty := getEnv("LOG_PRETTY", "") != ""

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.Level(logLevel)
	logCfg.Pretty = logPretty
	logging.Setup(logCfg)

	if subreddit == "" {
		log.Fatal().Msg("SUBVAULT_SUBREDDIT is required")
	}

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
	}
	log.Info().Str("addr", redisURL).Msg("Connected to Redis")

	ttl := time.Duration(getEnvInt("SUBVAULT_RESULT_TTL_HOURS", 7*24)) * time.Hour
	st := store.NewRedisStore(redisClient, ttl)

	redditClient, err := reddit.New(reddit.DefaultConfig(userAgent))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Reddit client")
	}

	stopBefore := time.Now().AddDate(0, 0, -days)
	cfg := coordinator.DefaultConfig(subreddit, stopBefore)
	cfg.Workers = workers

	stream := events.NewStreamSink(64)
	sink := events.MultiSink{events.NewLoggerSink(logging.NewLogger("events")), stream}

	coord, err := coordinator.New(cfg,
		coordinator.NewRedditSource(redditClient, subreddit),
		coordinator.NewRedditProcessor(redditClient),
		st, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create coordinator")
	}

	// HTTP surface
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", statusHandler(coord))
	mux.HandleFunc("/events", eventsHandler(stream))

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Stop the run on SIGINT/SIGTERM; a second signal kills the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Signal received, stopping run")
		coord.Stop()
		<-sigCh
		log.Warn().Msg("Second signal, exiting immediately")
		os.Exit(1)
	}()

	log.Info().
		Str("job_id", coord.JobID()).
		Str("subreddit", subreddit).
		Time("stop_before", stopBefore).
		Int("workers", workers).
		Msg("Archive run starting")

	runErr := coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	if runErr != nil {
		log.Fatal().Err(runErr).Msg("Run failed")
	}
	log.Info().Str("job_id", coord.JobID()).Msg("Run finished; merge with subvault-merge")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func statusHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(coord.Status()); err != nil {
			log.Error().Err(err).Msg("Failed to encode status")
		}
	}
}

// eventsHandler streams pipeline events as server-sent events.
func eventsHandler(stream *events.StreamSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch, cancel := stream.Subscribe()
		defer cancel()

		for {
			select {
			case <-r.Context().Done():
				return
			case payload, open := <-ch:
				if !open {
					return
				}
				if _, err := w.Write([]byte("data: ")); err != nil {
					return
				}
				if _, err := w.Write(payload); err != nil {
					return
				}
				if _, err := w.Write([]byte("\n\n")); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer env var, using default")
	}
	return defaultValue
}
