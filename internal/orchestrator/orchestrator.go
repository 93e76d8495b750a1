package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/compiler"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/mq"
	"github.com/shaiso/Cascade/internal/registry"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/supervisor"
)

// Default configuration values.
const (
	defaultCASRetries            = 3
	defaultCompilePollInterval   = 5 * time.Second
	defaultHealthPollInterval    = 10 * time.Second
	defaultDeadThreshold         = 3
	defaultProvisioningTimeout   = 2 * time.Minute
	defaultReadinessPollInterval = 2 * time.Second
	defaultShutdownGrace         = 30 * time.Second
	defaultShutdownPollInterval  = time.Second
)

// ProgramStore — доступ оркестратора к каталогу программ.
type ProgramStore interface {
	Create(ctx context.Context, p *domain.Program) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Program, error)
	ListByStatus(ctx context.Context, status domain.ProgramStatus) ([]domain.Program, error)
	UpdateConditional(ctx context.Context, p *domain.Program, expectedVersion int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConnectorStore — доступ оркестратора к каталогу коннекторов.
type ConnectorStore interface {
	Create(ctx context.Context, c *domain.Connector) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Connector, error)
	UpdateConditional(ctx context.Context, c *domain.Connector, expectedVersion int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AttachmentStore — доступ оркестратора к привязкам.
type AttachmentStore interface {
	Create(ctx context.Context, a *domain.Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Attachment, error)
	ListByProgram(ctx context.Context, programID uuid.UUID) ([]domain.Attachment, error)
	ListByConnector(ctx context.Context, connectorID uuid.UUID) ([]domain.Attachment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByProgram(ctx context.Context, programID uuid.UUID) error
	DeleteByConnector(ctx context.Context, connectorID uuid.UUID) error
}

// PipelineStore — доступ оркестратора к pipelines.
type PipelineStore interface {
	Create(ctx context.Context, p *domain.Pipeline) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	ListByStatus(ctx context.Context, statuses ...domain.PipelineStatus) ([]domain.Pipeline, error)
	ListByProgram(ctx context.Context, programID uuid.UUID) ([]domain.Pipeline, error)
	UpdateConditional(ctx context.Context, p *domain.Pipeline, expectedVersion int) error
	TouchHealth(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Orchestrator владеет машиной состояний pipelines и программ.
//
// Единственный писатель статусов: API-слой и MQ-потребитель действий
// вызывают его методы, фоновые циклы (компиляция, health) мутируют
// каталог только отсюда. Все записи идут через conditional update
// с ограниченным числом повторов.
type Orchestrator struct {
	// Stores
	programs    ProgramStore
	connectors  ConnectorStore
	attachments AttachmentStore
	pipelines   PipelineStore

	// External services
	compiler   compiler.Client
	supervisor supervisor.Client
	registry   *registry.Registry

	// MQ (опционально: без MQ оркестратор работает только от API)
	publisher *mq.Publisher
	conn      *mq.Connection

	// compileJobs — задания компиляции в полёте (programID → jobID).
	// Ключ коалесцирования: повторный запрос на COMPILING программу
	// возвращает существующее задание.
	compileJobs map[uuid.UUID]string

	// provisioning — pipelines с активной горутиной развёртывания
	// (pipelineID → cancel). Health-реконсилятор их не трогает.
	provisioning map[uuid.UUID]context.CancelFunc

	// deadMisses — счётчики последовательных наблюдений Dead.
	deadMisses map[uuid.UUID]int

	mu sync.Mutex

	// Configuration
	casRetries            int
	compilePollInterval   time.Duration
	healthPollInterval    time.Duration
	deadThreshold         int
	provisioningTimeout   time.Duration
	readinessPollInterval time.Duration
	shutdownGrace         time.Duration
	shutdownPollInterval  time.Duration

	// Lifecycle
	clock          clock.Clock
	logger         *slog.Logger
	runCtx         context.Context
	cancelFunc     context.CancelFunc
	wg             sync.WaitGroup
	actionConsumer *mq.Consumer
}

// Config — конфигурация Orchestrator.
type Config struct {
	Programs    ProgramStore
	Connectors  ConnectorStore
	Attachments AttachmentStore
	Pipelines   PipelineStore

	Compiler   compiler.Client
	Supervisor supervisor.Client
	Registry   *registry.Registry

	// Publisher и Conn опциональны: nil отключает события и
	// потребление очереди действий.
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// CASRetries — повторы conditional update при гонке версий (default: 3).
	CASRetries int

	// CompilePollInterval — интервал опроса заданий компиляции (default: 5s).
	CompilePollInterval time.Duration

	// HealthPollInterval — интервал health-реконсиляции (default: 10s).
	HealthPollInterval time.Duration

	// DeadThreshold — сколько подряд Dead переводят pipeline в FAILED (default: 3).
	DeadThreshold int

	// ProvisioningTimeout — предел ожидания готовности runtime (default: 2m).
	ProvisioningTimeout time.Duration

	// ReadinessPollInterval — интервал опроса здоровья при развёртывании (default: 2s).
	ReadinessPollInterval time.Duration

	// ShutdownGrace — срок мягкого завершения до принудительного kill (default: 30s).
	ShutdownGrace time.Duration

	// ShutdownPollInterval — интервал опроса процесса при shutdown (default: 1s).
	ShutdownPollInterval time.Duration

	// Clock — источник времени (default: настоящие часы).
	Clock clock.Clock

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		programs:     cfg.Programs,
		connectors:   cfg.Connectors,
		attachments:  cfg.Attachments,
		pipelines:    cfg.Pipelines,
		compiler:     cfg.Compiler,
		supervisor:   cfg.Supervisor,
		registry:     cfg.Registry,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		compileJobs:  make(map[uuid.UUID]string),
		provisioning: make(map[uuid.UUID]context.CancelFunc),
		deadMisses:   make(map[uuid.UUID]int),

		casRetries:            cfg.CASRetries,
		compilePollInterval:   cfg.CompilePollInterval,
		healthPollInterval:    cfg.HealthPollInterval,
		deadThreshold:         cfg.DeadThreshold,
		provisioningTimeout:   cfg.ProvisioningTimeout,
		readinessPollInterval: cfg.ReadinessPollInterval,
		shutdownGrace:         cfg.ShutdownGrace,
		shutdownPollInterval:  cfg.ShutdownPollInterval,

		clock:  cfg.Clock,
		logger: cfg.Logger,
	}

	if o.casRetries <= 0 {
		o.casRetries = defaultCASRetries
	}
	if o.compilePollInterval <= 0 {
		o.compilePollInterval = defaultCompilePollInterval
	}
	if o.healthPollInterval <= 0 {
		o.healthPollInterval = defaultHealthPollInterval
	}
	if o.deadThreshold <= 0 {
		o.deadThreshold = defaultDeadThreshold
	}
	if o.provisioningTimeout <= 0 {
		o.provisioningTimeout = defaultProvisioningTimeout
	}
	if o.readinessPollInterval <= 0 {
		o.readinessPollInterval = defaultReadinessPollInterval
	}
	if o.shutdownGrace <= 0 {
		o.shutdownGrace = defaultShutdownGrace
	}
	if o.shutdownPollInterval <= 0 {
		o.shutdownPollInterval = defaultShutdownPollInterval
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = registry.New()
	}
	return o
}

// Start запускает фоновые циклы оркестратора.
//
// Запускает:
//   - Восстановление после рестарта (осиротевшие PROVISIONING,
//     переподхват заданий компиляции)
//   - Цикл опроса компилятора
//   - Health-реконсилятор
//   - Consumer очереди pipelines.actions (если настроен MQ)
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.runCtx = ctx
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"compile_poll_interval", o.compilePollInterval,
		"health_poll_interval", o.healthPollInterval,
		"dead_threshold", o.deadThreshold,
	)

	if err := o.recover(ctx); err != nil {
		o.logger.Error("startup recovery failed", "error", err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.compileLoop(ctx)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.healthLoop(ctx)
	}()

	if o.conn != nil {
		o.actionConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueuePipelineActions),
			Handler:  o.handlePipelineAction,
			Prefetch: 10,
		})
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.actionConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("action consumer error", "error", err)
			}
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает оркестратор и ждёт завершения горутин.
func (o *Orchestrator) Stop() {
	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.actionConsumer != nil {
		o.actionConsumer.Stop()
	}
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// recover приводит каталог в согласие с реальностью после рестарта.
//
// PROVISIONING-pipelines без живой горутины развёртывания: если handle
// уже записан — возобновляем ожидание готовности; если нет — запуск
// потерян вместе с процессом manager, честный исход — FAILED.
// COMPILING-программы с сохранённым job id переподхватываются в опрос.
func (o *Orchestrator) recover(ctx context.Context) error {
	orphans, err := o.pipelines.ListByStatus(ctx, domain.PipelineStatusProvisioning)
	if err != nil {
		return fmt.Errorf("list provisioning pipelines: %w", err)
	}
	for i := range orphans {
		p := &orphans[i]
		if p.RuntimeHandle != "" {
			o.logger.Info("resuming readiness watch after restart",
				"pipeline_id", p.ID, "handle", p.RuntimeHandle)
			o.spawnProvision(p.ID, p.RuntimeHandle)
			continue
		}
		o.logger.Warn("provisioning interrupted by restart, failing pipeline",
			"pipeline_id", p.ID)
		o.failPipeline(ctx, p.ID, "provisioning interrupted by manager restart")
	}

	compiling, err := o.programs.ListByStatus(ctx, domain.ProgramStatusCompiling)
	if err != nil {
		return fmt.Errorf("list compiling programs: %w", err)
	}
	for i := range compiling {
		p := &compiling[i]
		if p.CompileJobID != "" {
			o.logger.Info("re-adopting compile job after restart",
				"program_id", p.ID, "job_id", p.CompileJobID)
			o.trackCompileJob(p.ID, p.CompileJobID)
			continue
		}
		o.logger.Warn("compile submission lost in restart, failing program",
			"program_id", p.ID)
		if _, err := o.updateProgram(ctx, p.ID, func(pr *domain.Program) error {
			if pr.Status != domain.ProgramStatusCompiling {
				return errStaleObservation
			}
			pr.MarkCompileFailed("compilation interrupted by manager restart")
			return nil
		}); err != nil && !errors.Is(err, errStaleObservation) {
			o.logger.Error("failed to mark interrupted program", "program_id", p.ID, "error", err)
		}
	}
	return nil
}

// errStaleObservation — внутренний сигнал CAS-циклу: перечитанная запись
// больше не в том состоянии, ради которого затевалась мутация.
// Наружу не выходит.
var errStaleObservation = errors.New("stale observation")

// updatePipeline выполняет conditional update pipeline с повторами.
//
// mutate вызывается на свежепрочитанной записи при каждой попытке
// и обязан перепроверить статус: между чтением и записью pipeline
// мог уйти в другое состояние.
func (o *Orchestrator) updatePipeline(ctx context.Context, id uuid.UUID, mutate func(*domain.Pipeline) error) (*domain.Pipeline, error) {
	for attempt := 0; attempt <= o.casRetries; attempt++ {
		p, err := o.pipelines.GetByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: pipeline %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read pipeline: %v", ErrInternal, err)
		}

		if err := mutate(p); err != nil {
			return nil, err
		}

		expected := p.Version
		err = o.pipelines.UpdateConditional(ctx, p, expected)
		if errors.Is(err, repo.ErrVersionConflict) {
			casConflictsTotal.Inc()
			o.logger.Debug("pipeline version conflict, retrying",
				"pipeline_id", id, "attempt", attempt+1)
			continue
		}
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: pipeline %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: update pipeline: %v", ErrInternal, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: pipeline %s", ErrConcurrentModification, id)
}

// updateProgram — то же для программ.
func (o *Orchestrator) updateProgram(ctx context.Context, id uuid.UUID, mutate func(*domain.Program) error) (*domain.Program, error) {
	for attempt := 0; attempt <= o.casRetries; attempt++ {
		p, err := o.programs.GetByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: program %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read program: %v", ErrInternal, err)
		}

		if err := mutate(p); err != nil {
			return nil, err
		}

		expected := p.Version
		err = o.programs.UpdateConditional(ctx, p, expected)
		if errors.Is(err, repo.ErrVersionConflict) {
			casConflictsTotal.Inc()
			o.logger.Debug("program version conflict, retrying",
				"program_id", id, "attempt", attempt+1)
			continue
		}
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: program %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: update program: %v", ErrInternal, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: program %s", ErrConcurrentModification, id)
}

// publishStateChange публикует событие смены статуса pipeline (best effort).
func (o *Orchestrator) publishStateChange(ctx context.Context, p *domain.Pipeline, from domain.PipelineStatus) {
	transitionsTotal.WithLabelValues(string(p.Status)).Inc()

	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishPipelineStateChanged(ctx, mq.PipelineStateChangedPayload{
		PipelineID: p.ID,
		From:       string(from),
		To:         string(p.Status),
		Error:      p.Error,
	})
	if err != nil {
		o.logger.Warn("failed to publish state change event",
			"pipeline_id", p.ID, "from", from, "to", p.Status, "error", err)
	}
}

// --- Tracking helpers ---

func (o *Orchestrator) trackCompileJob(programID uuid.UUID, jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.compileJobs[programID] = jobID
}

func (o *Orchestrator) untrackCompileJob(programID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.compileJobs, programID)
}

func (o *Orchestrator) trackedCompileJob(programID uuid.UUID) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	jobID, ok := o.compileJobs[programID]
	return jobID, ok
}

// snapshotCompileJobs возвращает копию карты заданий для опроса без блокировки.
func (o *Orchestrator) snapshotCompileJobs() map[uuid.UUID]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[uuid.UUID]string, len(o.compileJobs))
	for k, v := range o.compileJobs {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) isProvisioning(pipelineID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.provisioning[pipelineID]
	return ok
}

// beginProvisioning регистрирует горутину развёртывания.
// Возвращает false, если развёртывание уже идёт.
func (o *Orchestrator) beginProvisioning(pipelineID uuid.UUID, cancel context.CancelFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.provisioning[pipelineID]; ok {
		return false
	}
	o.provisioning[pipelineID] = cancel
	return true
}

func (o *Orchestrator) endProvisioning(pipelineID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.provisioning, pipelineID)
}

// cancelProvisioning отменяет горутину развёртывания, если она есть.
func (o *Orchestrator) cancelProvisioning(pipelineID uuid.UUID) {
	o.mu.Lock()
	cancel, ok := o.provisioning[pipelineID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) resetMisses(pipelineID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.deadMisses, pipelineID)
}

// bumpMisses инкрементирует счётчик Dead-наблюдений и возвращает новое значение.
func (o *Orchestrator) bumpMisses(pipelineID uuid.UUID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deadMisses[pipelineID]++
	return o.deadMisses[pipelineID]
}
