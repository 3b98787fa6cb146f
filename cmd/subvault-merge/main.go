package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/subvault/subvault/pkg/logging"
	"github.com/subvault/subvault/pkg/merge"
	"github.com/subvault/subvault/pkg/store"
)

// subvault-merge combines the per-worker results of one archive run into a
// single JSON document ordered newest first.
//
// Usage: subvault-merge <job-id> [output-file]
func main() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.Level(getEnv("LOG_LEVEL", "info"))
	logCfg.Pretty = true
	logging.Setup(logCfg)

	if len(os.Args) < 2 {
		log.Fatal().Msg("Usage: subvault-merge <job-id> [output-file]")
	}
	jobID := os.Args[1]
	outPath := "subvault-" + jobID + ".json"
	if len(os.Args) > 2 {
		outPath = os.Args[2]
	}

	redisURL := getEnv("REDIS_URL", "localhost:6379")
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
	}

	st := store.NewRedisStore(redisClient, 0)
	archive, err := merge.New(st).Merge(ctx, jobID)
	if err != nil {
		log.Fatal().Err(err).Str("job_id", jobID).Msg("Merge failed")
	}

	payload, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode archive")
	}
	if err := os.WriteFile(outPath, payload, 0o644); err != nil {
		log.Fatal().Err(err).Str("path", outPath).Msg("Failed to write archive")
	}

	log.Info().
		Str("job_id", jobID).
		Str("path", outPath).
		Int("workers", archive.TotalWorkers).
		Int("posts", archive.TotalPosts).
		Int("dead_letters", len(archive.DeadLetters)).
		Msg("Archive written")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
