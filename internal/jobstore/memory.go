package jobstore

import (
	"context"
	"fmt"
	"multimodal/internal/apperrors"
	"multimodal/internal/job"
	"sync"
)

// Memory keeps jobs in process. Nothing survives a restart; it backs tests
// and the genctl run command.
type Memory struct {
	mu    sync.RWMutex
	jobs  map[string]*job.Job
	order []string // creation order, oldest first
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*job.Job)}
}

// Create implements job.Store.
func (m *Memory) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return apperrors.Conflict("job", j.ID, fmt.Sprintf("job %s already exists", j.ID))
	}
	m.jobs[j.ID] = j.Clone()

	// Insert keeping order sorted by creation time.
	i := len(m.order)
	for i > 0 && m.jobs[m.order[i-1]].Metadata.CreatedAt.After(j.Metadata.CreatedAt) {
		i--
	}
	m.order = append(m.order, "")
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = j.ID
	return nil
}

// Get implements job.Store.
func (m *Memory) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	return j.Clone(), nil
}

// Update implements job.Store.
func (m *Memory) Update(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return apperrors.NotFound("job", j.ID)
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

// List implements job.Store.
func (m *Memory) List(_ context.Context, limit, offset int) ([]*job.Job, error) {
	if limit <= 0 {
		return []*job.Job{}, nil
	}
	offset = max(offset, 0)
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := []*job.Job{}
	for i := len(m.order) - 1 - offset; i >= 0 && len(jobs) < limit; i-- {
		jobs = append(jobs, m.jobs[m.order[i]].Clone())
	}
	return jobs, nil
}

// Ping implements job.Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements job.Store.
func (m *Memory) Close() error { return nil }
