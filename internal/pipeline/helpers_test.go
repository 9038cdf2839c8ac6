package pipeline

import (
	"context"
	"multimodal/internal/job"
	"multimodal/internal/jobstore"
	"multimodal/internal/worker"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// scripted is an adapter whose behavior is set per test.
type scripted struct {
	name    string
	respond func(req worker.Request) (*worker.Result, error)

	mu    sync.Mutex
	calls []worker.Request
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Invoke(_ context.Context, req worker.Request) (*worker.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.respond(req)
}

func (s *scripted) Calls() []worker.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]worker.Request(nil), s.calls...)
}

func textAdapter(name, text string) *scripted {
	return &scripted{name: name, respond: func(worker.Request) (*worker.Result, error) {
		return &worker.Result{Kind: worker.OutputText, Text: text, Provider: name + "-model"}, nil
	}}
}

func refAdapter(name string, kind worker.OutputKind, ref string) *scripted {
	return &scripted{name: name, respond: func(worker.Request) (*worker.Result, error) {
		return &worker.Result{Kind: kind, Ref: ref, Provider: name + "-model"}, nil
	}}
}

func failingAdapter(name string, err error) *scripted {
	return &scripted{name: name, respond: func(worker.Request) (*worker.Result, error) {
		return nil, err
	}}
}

// countingStore counts writes on top of the in-memory store.
type countingStore struct {
	*jobstore.Memory
	updates atomic.Int32
}

func (c *countingStore) Update(ctx context.Context, j *job.Job) error {
	c.updates.Add(1)
	return c.Memory.Update(ctx, j)
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (n *recordingNotifier) Notify(_ context.Context, j *job.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, j.Clone())
}

type fixture struct {
	store    *countingStore
	registry *worker.Registry
	notifier *recordingNotifier
	executor *Executor
}

func newFixture(t *testing.T, adapters map[worker.Role]worker.Adapter) *fixture {
	t.Helper()
	registry := worker.NewEmptyRegistry(nil)
	for role, a := range adapters {
		registry.Register(role, a)
	}
	return newFixtureWithRegistry(t, registry)
}

func newFixtureWithRegistry(t *testing.T, registry *worker.Registry) *fixture {
	t.Helper()
	f := &fixture{
		store:    &countingStore{Memory: jobstore.NewMemory()},
		registry: registry,
		notifier: &recordingNotifier{},
	}
	f.executor = NewExecutor(f.store, NewRouter(registry), f.notifier, nil)
	return f
}

// submit stores a queued job and returns its ID.
func (f *fixture) submit(t *testing.T, p job.PipelineType, in job.Inputs, opts worker.Options) string {
	t.Helper()
	j := &job.Job{
		ID:       uuid.NewString(),
		Pipeline: p,
		Inputs:   in,
		Options:  opts,
		Status:   job.StatusQueued,
		Metadata: job.Metadata{CreatedAt: time.Now().UTC()},
	}
	if err := f.store.Create(context.Background(), j); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return j.ID
}

// run executes id and returns the stored job.
func (f *fixture) run(t *testing.T, id string) *job.Job {
	t.Helper()
	if err := f.executor.Execute(context.Background(), id); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	j, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return j
}

func assertTerminalTimes(t *testing.T, j *job.Job) {
	t.Helper()
	if !j.Status.Terminal() {
		t.Fatalf("status = %s, want terminal", j.Status)
	}
	if j.Metadata.StartedAt == nil || j.Metadata.CompletedAt == nil {
		t.Fatalf("timestamps missing: %+v", j.Metadata)
	}
	if j.Metadata.CompletedAt.Before(*j.Metadata.StartedAt) {
		t.Errorf("completed_at %v before started_at %v", j.Metadata.CompletedAt, j.Metadata.StartedAt)
	}
}
