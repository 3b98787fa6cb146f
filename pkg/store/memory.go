package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore is an in-memory Store for unit tests and single-process runs
// where durability across restarts is not needed.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
	results     map[string][]byte
	workers     map[string]map[int]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]Checkpoint),
		results:     make(map[string][]byte),
		workers:     make(map[string]map[int]struct{}),
	}
}

func memKey(jobID string, workerID int) string {
	return jobID + "/" + strconv.Itoa(workerID)
}

// SaveCheckpoint implements CheckpointStore.
func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[memKey(cp.JobID, cp.WorkerID)] = cp
	return nil
}

// LoadCheckpoint implements CheckpointStore.
func (s *MemoryStore) LoadCheckpoint(_ context.Context, jobID string, workerID int) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[memKey(jobID, workerID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &cp, nil
}

// DeleteCheckpoint implements CheckpointStore.
func (s *MemoryStore) DeleteCheckpoint(_ context.Context, jobID string, workerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, memKey(jobID, workerID))
	return nil
}

// SaveResults implements ResultStore.
func (s *MemoryStore) SaveResults(_ context.Context, jobID string, workerID int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.results[memKey(jobID, workerID)] = buf

	if s.workers[jobID] == nil {
		s.workers[jobID] = make(map[int]struct{})
	}
	s.workers[jobID][workerID] = struct{}{}
	return nil
}

// LoadResults implements ResultStore.
func (s *MemoryStore) LoadResults(_ context.Context, jobID string, workerID int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.results[memKey(jobID, workerID)]
	if !ok {
		return nil, ErrNotFound
	}
	return payload, nil
}

// ListWorkers implements ResultStore.
func (s *MemoryStore) ListWorkers(_ context.Context, jobID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.workers[jobID]))
	for id := range s.workers[jobID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}
