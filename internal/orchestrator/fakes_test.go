package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/compiler"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/supervisor"
)

// In-memory фейки повторяют контракт репозиториев: версии, копии
// записей при чтении, те же sentinel-ошибки пакета repo.

// --- fakeProgramStore ---

type fakeProgramStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Program
}

func newFakeProgramStore() *fakeProgramStore {
	return &fakeProgramStore{items: make(map[uuid.UUID]*domain.Program)}
}

func (s *fakeProgramStore) Create(_ context.Context, p *domain.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Name == p.Name {
			return repo.ErrAlreadyExists
		}
	}
	p.Version = 1
	cp := *p
	s.items[p.ID] = &cp
	return nil
}

func (s *fakeProgramStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeProgramStore) ListByStatus(_ context.Context, status domain.ProgramStatus) ([]domain.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Program
	for _, p := range s.items {
		if p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeProgramStore) UpdateConditional(_ context.Context, p *domain.Program, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[p.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return repo.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	s.items[p.ID] = &cp
	return nil
}

func (s *fakeProgramStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// --- fakeConnectorStore ---

type fakeConnectorStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Connector
}

func newFakeConnectorStore() *fakeConnectorStore {
	return &fakeConnectorStore{items: make(map[uuid.UUID]*domain.Connector)}
}

func (s *fakeConnectorStore) Create(_ context.Context, c *domain.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Name == c.Name {
			return repo.ErrAlreadyExists
		}
	}
	c.Version = 1
	cp := *c
	s.items[c.ID] = &cp
	return nil
}

func (s *fakeConnectorStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *c
	cfg := make(map[string]any, len(c.Config))
	for k, v := range c.Config {
		cfg[k] = v
	}
	cp.Config = cfg
	return &cp, nil
}

func (s *fakeConnectorStore) UpdateConditional(_ context.Context, c *domain.Connector, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[c.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return repo.ErrVersionConflict
	}
	c.Version = expectedVersion + 1
	cp := *c
	s.items[c.ID] = &cp
	return nil
}

func (s *fakeConnectorStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// --- fakeAttachmentStore ---

type fakeAttachmentStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Attachment
}

func newFakeAttachmentStore() *fakeAttachmentStore {
	return &fakeAttachmentStore{items: make(map[uuid.UUID]*domain.Attachment)}
}

func (s *fakeAttachmentStore) Create(_ context.Context, a *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.ProgramID == a.ProgramID && existing.Role == a.Role {
			return repo.ErrAlreadyExists
		}
	}
	a.Version = 1
	cp := *a
	s.items[a.ID] = &cp
	return nil
}

func (s *fakeAttachmentStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeAttachmentStore) ListByProgram(_ context.Context, programID uuid.UUID) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attachment
	for _, a := range s.items {
		if a.ProgramID == programID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAttachmentStore) ListByConnector(_ context.Context, connectorID uuid.UUID) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attachment
	for _, a := range s.items {
		if a.ConnectorID == connectorID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAttachmentStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *fakeAttachmentStore) DeleteByProgram(_ context.Context, programID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.items {
		if a.ProgramID == programID {
			delete(s.items, id)
		}
	}
	return nil
}

func (s *fakeAttachmentStore) DeleteByConnector(_ context.Context, connectorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.items {
		if a.ConnectorID == connectorID {
			delete(s.items, id)
		}
	}
	return nil
}

// --- fakePipelineStore ---

type fakePipelineStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Pipeline

	// conflicts — сколько ближайших UpdateConditional ответят
	// ErrVersionConflict (для проверки CAS-повторов).
	conflicts int
}

func newFakePipelineStore() *fakePipelineStore {
	return &fakePipelineStore{items: make(map[uuid.UUID]*domain.Pipeline)}
}

func (s *fakePipelineStore) Create(_ context.Context, p *domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Name == p.Name {
			return repo.ErrAlreadyExists
		}
	}
	p.Version = 1
	cp := copyPipeline(p)
	s.items[p.ID] = cp
	return nil
}

func (s *fakePipelineStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return copyPipeline(p), nil
}

func (s *fakePipelineStore) ListByStatus(_ context.Context, statuses ...domain.PipelineStatus) ([]domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Pipeline
	for _, p := range s.items {
		for _, st := range statuses {
			if p.Status == st {
				out = append(out, *copyPipeline(p))
				break
			}
		}
	}
	return out, nil
}

func (s *fakePipelineStore) ListByProgram(_ context.Context, programID uuid.UUID) ([]domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Pipeline
	for _, p := range s.items {
		if p.ProgramID == programID {
			out = append(out, *copyPipeline(p))
		}
	}
	return out, nil
}

func (s *fakePipelineStore) UpdateConditional(_ context.Context, p *domain.Pipeline, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return repo.ErrVersionConflict
	}
	existing, ok := s.items[p.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return repo.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now().UTC()
	s.items[p.ID] = copyPipeline(p)
	return nil
}

func (s *fakePipelineStore) TouchHealth(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.LastHealthyAt = &at
	return nil
}

func (s *fakePipelineStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	if p.Status != domain.PipelineStatusShutdown {
		return repo.ErrInvalidState
	}
	delete(s.items, id)
	return nil
}

// seed кладёт pipeline в хранилище напрямую, минуя оркестратор.
func (s *fakePipelineStore) seed(p *domain.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Version == 0 {
		p.Version = 1
	}
	s.items[p.ID] = copyPipeline(p)
}

func copyPipeline(p *domain.Pipeline) *domain.Pipeline {
	cp := *p
	if p.Snapshot != nil {
		cp.Snapshot = make([]domain.AttachedConnector, len(p.Snapshot))
		copy(cp.Snapshot, p.Snapshot)
	}
	return &cp
}

// --- fakeSupervisor ---

type signalCall struct {
	handle string
	sig    supervisor.Signal
}

type fakeSupervisor struct {
	mu sync.Mutex

	startErr  error
	started   []supervisor.StartRequest
	handleSeq int

	signals   []signalCall
	signalErr map[supervisor.Signal]error

	// ignoreTerminate — процесс "зависает": terminate не убивает его,
	// смерть наступает только от kill.
	ignoreTerminate bool

	health    map[string]supervisor.HealthState
	healthErr error
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		signalErr: make(map[supervisor.Signal]error),
		health:    make(map[string]supervisor.HealthState),
	}
}

func (f *fakeSupervisor) Start(_ context.Context, req supervisor.StartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.handleSeq++
	handle := fmt.Sprintf("proc-%d", f.handleSeq)
	f.started = append(f.started, req)
	if _, ok := f.health[handle]; !ok {
		f.health[handle] = supervisor.HealthAlive
	}
	return handle, nil
}

func (f *fakeSupervisor) Signal(_ context.Context, handle string, sig supervisor.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signalCall{handle: handle, sig: sig})
	if err := f.signalErr[sig]; err != nil {
		return err
	}
	switch sig {
	case supervisor.SignalTerminate:
		if !f.ignoreTerminate {
			f.health[handle] = supervisor.HealthDead
		}
	case supervisor.SignalKill:
		f.health[handle] = supervisor.HealthDead
	}
	return nil
}

func (f *fakeSupervisor) Health(_ context.Context, handle string) (supervisor.HealthState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healthErr != nil {
		return supervisor.HealthUnknown, f.healthErr
	}
	state, ok := f.health[handle]
	if !ok {
		return supervisor.HealthDead, nil
	}
	return state, nil
}

func (f *fakeSupervisor) setHealth(handle string, state supervisor.HealthState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health[handle] = state
}

func (f *fakeSupervisor) signalCount(sig supervisor.Signal) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.signals {
		if c.sig == sig {
			n++
		}
	}
	return n
}

func (f *fakeSupervisor) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

// --- fakeCompiler ---

type fakeCompiler struct {
	mu sync.Mutex

	submitErr error
	seq       int
	submitted []uuid.UUID
	jobs      map[string]compiler.Result
	cancelled []string
}

func newFakeCompiler() *fakeCompiler {
	return &fakeCompiler{jobs: make(map[string]compiler.Result)}
}

func (f *fakeCompiler) Submit(_ context.Context, programID uuid.UUID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.seq++
	jobID := fmt.Sprintf("job-%d", f.seq)
	f.submitted = append(f.submitted, programID)
	f.jobs[jobID] = compiler.Result{State: compiler.JobStatePending}
	return jobID, nil
}

func (f *fakeCompiler) Poll(_ context.Context, jobID string) (compiler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.jobs[jobID]
	if !ok {
		return compiler.Result{}, compiler.ErrJobNotFound
	}
	return result, nil
}

func (f *fakeCompiler) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	delete(f.jobs, jobID)
	return nil
}

func (f *fakeCompiler) setResult(jobID string, result compiler.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = result
}

func (f *fakeCompiler) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}
