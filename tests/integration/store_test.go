package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/subvault/subvault/pkg/store"
	"github.com/subvault/subvault/pkg/work"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestRedisCheckpointRoundtrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	st := store.NewRedisStore(redisClient, time.Hour)
	ctx := context.Background()

	cp := store.Checkpoint{
		JobID:     "job-1",
		WorkerID:  2,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Item: work.Item{
			PostID:      "abc123",
			Permalink:   "/r/golang/comments/abc123/",
			CreatedUTC:  1724500000,
			NumComments: 7,
			BatchID:     3,
			ItemIndex:   42,
			Attempts:    1,
		},
		Processed: 15,
	}

	if err := st.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	loaded, err := st.LoadCheckpoint(ctx, "job-1", 2)
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if loaded.Item != cp.Item {
		t.Errorf("loaded item = %+v, want %+v", loaded.Item, cp.Item)
	}
	if loaded.Processed != cp.Processed {
		t.Errorf("loaded processed = %d, want %d", loaded.Processed, cp.Processed)
	}

	// Each write overwrites in place; no history accumulates per worker.
	cp.Item.PostID = "def456"
	if err := st.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint() overwrite error = %v", err)
	}
	loaded, err = st.LoadCheckpoint(ctx, "job-1", 2)
	if err != nil {
		t.Fatalf("LoadCheckpoint() after overwrite error = %v", err)
	}
	if loaded.Item.PostID != "def456" {
		t.Errorf("loaded item = %q, want %q", loaded.Item.PostID, "def456")
	}

	if err := st.DeleteCheckpoint(ctx, "job-1", 2); err != nil {
		t.Fatalf("DeleteCheckpoint() error = %v", err)
	}
	if _, err := st.LoadCheckpoint(ctx, "job-1", 2); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LoadCheckpoint() after delete: err = %v, want ErrNotFound", err)
	}
}

func TestRedisCheckpointMissing(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	st := store.NewRedisStore(redisClient, time.Hour)
	if _, err := st.LoadCheckpoint(context.Background(), "no-such-job", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LoadCheckpoint() err = %v, want ErrNotFound", err)
	}
}

func TestRedisResultsAndListWorkers(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	st := store.NewRedisStore(redisClient, time.Hour)
	ctx := context.Background()

	for _, workerID := range []int{3, 1, 2} {
		payload := []byte(fmt.Sprintf(`{"worker_id":%d}`, workerID))
		if err := st.SaveResults(ctx, "job-1", workerID, payload); err != nil {
			t.Fatalf("SaveResults(%d) error = %v", workerID, err)
		}
	}
	// A different job must not leak into the listing.
	if err := st.SaveResults(ctx, "job-2", 9, []byte(`{}`)); err != nil {
		t.Fatalf("SaveResults(job-2) error = %v", err)
	}

	workers, err := st.ListWorkers(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListWorkers() error = %v", err)
	}
	want := []int{1, 2, 3}
	if len(workers) != len(want) {
		t.Fatalf("ListWorkers() = %v, want %v", workers, want)
	}
	for i := range want {
		if workers[i] != want[i] {
			t.Errorf("ListWorkers()[%d] = %d, want %d", i, workers[i], want[i])
		}
	}

	payload, err := st.LoadResults(ctx, "job-1", 2)
	if err != nil {
		t.Fatalf("LoadResults() error = %v", err)
	}
	if string(payload) != `{"worker_id":2}` {
		t.Errorf("LoadResults() = %s", payload)
	}
}
