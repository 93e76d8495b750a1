package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/compiler"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/supervisor"
)

type testEnv struct {
	o           *Orchestrator
	programs    *fakeProgramStore
	connectors  *fakeConnectorStore
	attachments *fakeAttachmentStore
	pipelines   *fakePipelineStore
	sup         *fakeSupervisor
	comp        *fakeCompiler
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		programs:    newFakeProgramStore(),
		connectors:  newFakeConnectorStore(),
		attachments: newFakeAttachmentStore(),
		pipelines:   newFakePipelineStore(),
		sup:         newFakeSupervisor(),
		comp:        newFakeCompiler(),
	}

	cfg := Config{
		Programs:    env.programs,
		Connectors:  env.connectors,
		Attachments: env.attachments,
		Pipelines:   env.pipelines,
		Compiler:    env.comp,
		Supervisor:  env.sup,

		ReadinessPollInterval: time.Millisecond,
		ProvisioningTimeout:   time.Second,
		ShutdownGrace:         20 * time.Millisecond,
		ShutdownPollInterval:  time.Millisecond,

		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env.o = New(cfg)
	return env
}

// makeCompiledProgram прогоняет программу через полный цикл компиляции.
func makeCompiledProgram(t *testing.T, env *testEnv, name string) *domain.Program {
	t.Helper()
	ctx := context.Background()

	p, err := env.o.CreateProgram(ctx, name, "SELECT * FROM orders")
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}

	p, err = env.o.RequestCompile(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestCompile: %v", err)
	}
	env.comp.setResult(p.CompileJobID, compiler.Result{
		State:       compiler.JobStateSuccess,
		ArtifactRef: "artifact:" + name + ":v1",
	})
	env.o.pollCompileJobs(ctx)

	p, err = env.programs.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if p.Status != domain.ProgramStatusCompiled {
		t.Fatalf("program status = %s, want COMPILED", p.Status)
	}
	return p
}

func makeConnector(t *testing.T, env *testEnv, name string, dir domain.Direction, transport domain.Transport, config map[string]any) *domain.Connector {
	t.Helper()
	c, err := env.o.CreateConnector(context.Background(), &domain.Connector{
		Name:      name,
		Direction: dir,
		Transport: transport,
		Config:    config,
	})
	if err != nil {
		t.Fatalf("CreateConnector(%s): %v", name, err)
	}
	return c
}

func makeBrokerIn(t *testing.T, env *testEnv, name string) *domain.Connector {
	t.Helper()
	return makeConnector(t, env, name, domain.DirectionInput, domain.TransportBrokerIn, map[string]any{
		"brokers": []any{"kafka-1:9092"},
		"topic":   "orders",
	})
}

func waitStatus(t *testing.T, env *testEnv, id uuid.UUID, want domain.PipelineStatus) *domain.Pipeline {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := env.pipelines.GetByID(context.Background(), id)
		if err == nil && p.Status == want {
			return p
		}
		time.Sleep(2 * time.Millisecond)
	}
	p, _ := env.pipelines.GetByID(context.Background(), id)
	t.Fatalf("pipeline did not reach %s, last seen: %+v", want, p)
	return nil
}

// --- Deploy ---

func TestDeploy_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "sessionize")
	conn := makeBrokerIn(t, env, "orders-topic")

	if _, err := env.o.Attach(ctx, program.ID, conn.ID, "input0", domain.DirectionInput); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	pl, err := env.o.CreatePipeline(ctx, "sessionize-prod", program.ID)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	accepted, err := env.o.Deploy(ctx, pl.ID)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if accepted.Status != domain.PipelineStatusProvisioning {
		t.Errorf("accepted status = %s, want PROVISIONING", accepted.Status)
	}

	running := waitStatus(t, env, pl.ID, domain.PipelineStatusRunning)

	if running.RuntimeHandle == "" {
		t.Error("running pipeline should have a runtime handle")
	}
	if running.LastHealthyAt == nil {
		t.Error("running pipeline should have last_healthy_at set")
	}
	if len(running.Snapshot) != 1 {
		t.Fatalf("snapshot size = %d, want 1", len(running.Snapshot))
	}
	if running.Snapshot[0].Role != "input0" {
		t.Errorf("snapshot role = %q, want input0", running.Snapshot[0].Role)
	}
	if running.Snapshot[0].Config["topic"] != "orders" {
		t.Errorf("snapshot config topic = %v, want orders", running.Snapshot[0].Config["topic"])
	}

	if env.sup.startCount() != 1 {
		t.Errorf("supervisor start count = %d, want 1", env.sup.startCount())
	}
}

func TestDeploy_ProgramNotCompiled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.o.CreateProgram(ctx, "raw", "SELECT 1")
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}
	pl, err := env.o.CreatePipeline(ctx, "raw-prod", p.ID)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	_, err = env.o.Deploy(ctx, pl.ID)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Deploy error = %v, want ErrPrecondition", err)
	}
	if env.sup.startCount() != 0 {
		t.Error("supervisor should not be called for uncompiled program")
	}
}

func TestDeploy_InvalidFromRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "p1")
	pl, _ := env.o.CreatePipeline(ctx, "pl1", program.ID)
	env.pipelines.seed(&domain.Pipeline{
		ID: pl.ID, Name: pl.Name, ProgramID: program.ID,
		Status: domain.PipelineStatusRunning, RuntimeHandle: "h1",
	})

	_, err := env.o.Deploy(ctx, pl.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Deploy error = %v, want ErrInvalidTransition", err)
	}
}

func TestDeploy_MissingConnector(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "p1")
	conn := makeBrokerIn(t, env, "doomed")
	if _, err := env.o.Attach(ctx, program.ID, conn.ID, "input0", domain.DirectionInput); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	// Коннектор исчезает в обход каскадного detach.
	if err := env.connectors.Delete(ctx, conn.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	pl, _ := env.o.CreatePipeline(ctx, "pl1", program.ID)
	_, err := env.o.Deploy(ctx, pl.ID)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Deploy error = %v, want ErrPrecondition", err)
	}
}

func TestDeploy_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.o.Deploy(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Deploy error = %v, want ErrNotFound", err)
	}
}

func TestDeploy_StartFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "p1")
	pl, _ := env.o.CreatePipeline(ctx, "pl1", program.ID)

	env.sup.startErr = supervisor.ErrStartFailed

	if _, err := env.o.Deploy(ctx, pl.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	failed := waitStatus(t, env, pl.ID, domain.PipelineStatusFailed)
	if !strings.Contains(failed.Error, "runtime start failed") {
		t.Errorf("failure reason = %q, want start failure", failed.Error)
	}
	if failed.FailedAt == nil {
		t.Error("failed pipeline should have failed_at set")
	}
}

func TestDeploy_ReadinessTimeout(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.ProvisioningTimeout = 30 * time.Millisecond
	})

	// Процесс запущен до нас, но готовность так и не наступает.
	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID:            id,
		Name:          "stuck",
		ProgramID:     uuid.New(),
		Status:        domain.PipelineStatusProvisioning,
		RuntimeHandle: "h-slow",
	})
	env.sup.setHealth("h-slow", supervisor.HealthUnknown)

	env.o.spawnProvision(id, "h-slow")

	failed := waitStatus(t, env, id, domain.PipelineStatusFailed)
	if !strings.Contains(failed.Error, "did not become ready") {
		t.Errorf("failure reason = %q, want readiness timeout", failed.Error)
	}
	// Зависший процесс добит.
	if env.sup.signalCount(supervisor.SignalKill) == 0 {
		t.Error("expected kill signal for unready runtime")
	}
}

// Правка коннектора после deploy не просачивается в замороженный снапшот.
func TestDeploy_SnapshotFrozen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "p1")
	conn := makeBrokerIn(t, env, "orders")
	if _, err := env.o.Attach(ctx, program.ID, conn.ID, "input0", domain.DirectionInput); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	pl, _ := env.o.CreatePipeline(ctx, "pl1", program.ID)
	if _, err := env.o.Deploy(ctx, pl.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	waitStatus(t, env, pl.ID, domain.PipelineStatusRunning)

	// Меняем конфиг напрямую в хранилище (оркестратор бы отказал).
	stored, _ := env.connectors.GetByID(ctx, conn.ID)
	stored.Config["topic"] = "other-topic"
	if err := env.connectors.UpdateConditional(ctx, stored, stored.Version); err != nil {
		t.Fatalf("UpdateConditional: %v", err)
	}

	p, _ := env.pipelines.GetByID(ctx, pl.ID)
	if p.Snapshot[0].Config["topic"] != "orders" {
		t.Errorf("snapshot config mutated: %v", p.Snapshot[0].Config["topic"])
	}
}

// Одновременные deploy одного pipeline: побеждает ровно один,
// супервизор видит ровно один Start.
func TestDeploy_ConcurrentSingleStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "p1")
	pl, err := env.o.CreatePipeline(ctx, "pl1", program.ID)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	const callers = 2
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.o.Deploy(ctx, pl.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var accepted int
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentModification):
		default:
			t.Fatalf("unexpected deploy error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted deploys = %d, want exactly 1", accepted)
	}

	waitStatus(t, env, pl.ID, domain.PipelineStatusRunning)
	if env.sup.startCount() != 1 {
		t.Errorf("supervisor start count = %d, want 1", env.sup.startCount())
	}
}

// Правка программы, проскочившая между проверкой предусловий deploy
// и записью PROVISIONING, не доводит pipeline до RUNNING.
func TestDeploy_ProgramInvalidatedBeforeRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Программа уже не COMPILED, а pipeline развёртывается на старом
	// артефакте: так выглядит каталог после гонки deploy с правкой.
	p, err := env.o.CreateProgram(ctx, "p1", "SELECT 1")
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}

	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID: id, Name: "pl1", ProgramID: p.ID,
		Status:      domain.PipelineStatusProvisioning,
		ArtifactRef: "artifact:p1:v1", RuntimeHandle: "h1",
	})
	env.sup.setHealth("h1", supervisor.HealthAlive)

	env.o.spawnProvision(id, "h1")

	failed := waitStatus(t, env, id, domain.PipelineStatusFailed)
	if !strings.Contains(failed.Error, "modified") {
		t.Errorf("failure reason = %q, want program modification", failed.Error)
	}
	// Запущенный на устаревшем артефакте процесс добит.
	if env.sup.signalCount(supervisor.SignalKill) == 0 {
		t.Error("expected kill signal for stale runtime")
	}
}

// --- Pause / Resume ---

func seedRunning(env *testEnv, name, handle string) uuid.UUID {
	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID:            id,
		Name:          name,
		ProgramID:     uuid.New(),
		Status:        domain.PipelineStatusRunning,
		RuntimeHandle: handle,
	})
	env.sup.setHealth(handle, supervisor.HealthAlive)
	return id
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	paused, err := env.o.Pause(ctx, id)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != domain.PipelineStatusPaused {
		t.Errorf("status = %s, want PAUSED", paused.Status)
	}
	if env.sup.signalCount(supervisor.SignalPause) != 1 {
		t.Error("expected pause signal")
	}
	// Handle сохраняется: процесс жив.
	if paused.RuntimeHandle != "h1" {
		t.Errorf("handle = %q, want h1", paused.RuntimeHandle)
	}

	resumed, err := env.o.Resume(ctx, id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != domain.PipelineStatusRunning {
		t.Errorf("status = %s, want RUNNING", resumed.Status)
	}
	if env.sup.signalCount(supervisor.SignalResume) != 1 {
		t.Error("expected resume signal")
	}
}

func TestPause_InvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID: id, Name: "pl1", ProgramID: uuid.New(),
		Status: domain.PipelineStatusShutdown,
	})

	if _, err := env.o.Pause(ctx, id); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Pause error = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.o.Resume(ctx, id); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Resume error = %v, want ErrInvalidTransition", err)
	}
}

// Отказ супервизора не оставляет каталог с фиктивной паузой.
func TestPause_SupervisorError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	env.sup.signalErr[supervisor.SignalPause] = supervisor.ErrUnavailable

	_, err := env.o.Pause(ctx, id)
	if !errors.Is(err, ErrSupervisor) {
		t.Fatalf("Pause error = %v, want ErrSupervisor", err)
	}

	p, _ := env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusRunning {
		t.Errorf("status = %s, want RUNNING (unchanged)", p.Status)
	}
}

// --- Shutdown ---

func TestShutdown_Graceful(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	p, err := env.o.Shutdown(ctx, id)
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.Status != domain.PipelineStatusShutdown {
		t.Errorf("status = %s, want SHUTDOWN", p.Status)
	}
	if p.RuntimeHandle != "" {
		t.Errorf("handle = %q, want empty", p.RuntimeHandle)
	}
	if env.sup.signalCount(supervisor.SignalTerminate) != 1 {
		t.Error("expected terminate signal")
	}
	if env.sup.signalCount(supervisor.SignalKill) != 0 {
		t.Error("graceful shutdown should not force kill")
	}
}

func TestShutdown_ForceKillAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	env.sup.ignoreTerminate = true

	p, err := env.o.Shutdown(ctx, id)
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.Status != domain.PipelineStatusShutdown {
		t.Errorf("status = %s, want SHUTDOWN", p.Status)
	}
	if env.sup.signalCount(supervisor.SignalKill) != 1 {
		t.Error("expected force kill after grace period")
	}
}

// Недоставленный terminate не отменяет shutdown: процесс добивается
// kill, каталог приходит в SHUTDOWN.
func TestShutdown_TerminateUndeliverable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	env.sup.signalErr[supervisor.SignalTerminate] = supervisor.ErrUnavailable

	p, err := env.o.Shutdown(ctx, id)
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.Status != domain.PipelineStatusShutdown {
		t.Errorf("status = %s, want SHUTDOWN", p.Status)
	}
	if env.sup.signalCount(supervisor.SignalKill) != 1 {
		t.Errorf("kill count = %d, want 1", env.sup.signalCount(supervisor.SignalKill))
	}
}

func TestShutdown_SupervisorFullyDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	env.sup.signalErr[supervisor.SignalTerminate] = supervisor.ErrUnavailable
	env.sup.signalErr[supervisor.SignalKill] = supervisor.ErrUnavailable

	p, err := env.o.Shutdown(ctx, id)
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.Status != domain.PipelineStatusShutdown {
		t.Errorf("status = %s, want SHUTDOWN", p.Status)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID: id, Name: "pl1", ProgramID: uuid.New(),
		Status: domain.PipelineStatusShutdown,
	})

	p, err := env.o.Shutdown(ctx, id)
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.Status != domain.PipelineStatusShutdown {
		t.Errorf("status = %s, want SHUTDOWN", p.Status)
	}
	if len(env.sup.signals) != 0 {
		t.Errorf("no signals expected for already shut down pipeline, got %v", env.sup.signals)
	}
}

func TestShutdown_FromFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID: id, Name: "pl1", ProgramID: uuid.New(),
		Status: domain.PipelineStatusFailed, Error: "boom",
	})

	p, err := env.o.Shutdown(ctx, id)
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.Status != domain.PipelineStatusShutdown {
		t.Errorf("status = %s, want SHUTDOWN", p.Status)
	}
}

// --- Optimistic concurrency ---

func TestCAS_RetriesOnConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	env.pipelines.conflicts = 2

	p, err := env.o.Pause(ctx, id)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if p.Status != domain.PipelineStatusPaused {
		t.Errorf("status = %s, want PAUSED", p.Status)
	}
}

func TestCAS_Exhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	env.pipelines.conflicts = 100

	_, err := env.o.Pause(ctx, id)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("Pause error = %v, want ErrConcurrentModification", err)
	}
}

// --- Compilation ---

func TestRequestCompile_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.o.CreateProgram(ctx, "fraud-score", "SELECT score FROM tx")
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}

	p, err = env.o.RequestCompile(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestCompile: %v", err)
	}
	if p.Status != domain.ProgramStatusCompiling {
		t.Errorf("status = %s, want COMPILING", p.Status)
	}
	if p.CompileJobID == "" {
		t.Fatal("compile job id should be recorded")
	}

	env.comp.setResult(p.CompileJobID, compiler.Result{
		State:       compiler.JobStateSuccess,
		ArtifactRef: "artifact:v1",
	})
	env.o.pollCompileJobs(ctx)

	p, _ = env.programs.GetByID(ctx, p.ID)
	if p.Status != domain.ProgramStatusCompiled {
		t.Errorf("status = %s, want COMPILED", p.Status)
	}
	if p.ArtifactRef != "artifact:v1" {
		t.Errorf("artifact = %q, want artifact:v1", p.ArtifactRef)
	}
	if p.CompileJobID != "" {
		t.Error("job id should be cleared after completion")
	}
}

func TestRequestCompile_Coalesces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, _ := env.o.CreateProgram(ctx, "p1", "SELECT 1")
	first, err := env.o.RequestCompile(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestCompile: %v", err)
	}

	second, err := env.o.RequestCompile(ctx, p.ID)
	if err != nil {
		t.Fatalf("second RequestCompile: %v", err)
	}
	if second.CompileJobID != first.CompileJobID {
		t.Errorf("job id = %q, want coalesced %q", second.CompileJobID, first.CompileJobID)
	}
	if env.comp.submitCount() != 1 {
		t.Errorf("submit count = %d, want 1", env.comp.submitCount())
	}
}

func TestRequestCompile_OnCompiled(t *testing.T) {
	env := newTestEnv(t)
	p := makeCompiledProgram(t, env, "p1")

	_, err := env.o.RequestCompile(context.Background(), p.ID)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("RequestCompile error = %v, want ErrPrecondition", err)
	}
}

func TestCompile_FailureKeepsDiagnostics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, _ := env.o.CreateProgram(ctx, "p1", "SELEKT 1")
	p, err := env.o.RequestCompile(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestCompile: %v", err)
	}

	const diag = "line 1: syntax error near SELEKT"
	env.comp.setResult(p.CompileJobID, compiler.Result{
		State:       compiler.JobStateFailure,
		Diagnostics: diag,
	})
	env.o.pollCompileJobs(ctx)

	p, _ = env.programs.GetByID(ctx, p.ID)
	if p.Status != domain.ProgramStatusCompileFailed {
		t.Errorf("status = %s, want COMPILE_FAILED", p.Status)
	}
	if p.Diagnostics != diag {
		t.Errorf("diagnostics = %q, want verbatim %q", p.Diagnostics, diag)
	}

	// COMPILE_FAILED → повторный запрос допустим.
	if _, err := env.o.RequestCompile(ctx, p.ID); err != nil {
		t.Fatalf("retry RequestCompile: %v", err)
	}
}

func TestCompile_SubmitFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, _ := env.o.CreateProgram(ctx, "p1", "SELECT 1")
	env.comp.submitErr = compiler.ErrUnavailable

	_, err := env.o.RequestCompile(ctx, p.ID)
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("RequestCompile error = %v, want ErrCompile", err)
	}

	p, _ = env.programs.GetByID(ctx, p.ID)
	if p.Status != domain.ProgramStatusCompileFailed {
		t.Errorf("status = %s, want COMPILE_FAILED", p.Status)
	}
}

// Результат задания, пережившего правку исходника, отбрасывается.
func TestCompile_StaleResultDiscarded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, _ := env.o.CreateProgram(ctx, "p1", "SELECT 1")
	p, err := env.o.RequestCompile(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestCompile: %v", err)
	}
	jobID := p.CompileJobID

	// Исходник правится в обход оркестратора, пока задание в полёте.
	stored, _ := env.programs.GetByID(ctx, p.ID)
	stored.Source = "SELECT 2"
	stored.InvalidateCompilation()
	if err := env.programs.UpdateConditional(ctx, stored, stored.Version); err != nil {
		t.Fatalf("UpdateConditional: %v", err)
	}

	env.comp.setResult(jobID, compiler.Result{
		State:       compiler.JobStateSuccess,
		ArtifactRef: "artifact:stale",
	})
	env.o.pollCompileJobs(ctx)

	got, _ := env.programs.GetByID(ctx, p.ID)
	if got.Status != domain.ProgramStatusUncompiled {
		t.Errorf("status = %s, want UNCOMPILED", got.Status)
	}
	if got.ArtifactRef != "" {
		t.Errorf("stale artifact recorded: %q", got.ArtifactRef)
	}
}

func TestUpdateProgram_SourceEditCancelsCompile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, _ := env.o.CreateProgram(ctx, "p1", "SELECT 1")
	p, err := env.o.RequestCompile(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestCompile: %v", err)
	}
	jobID := p.CompileJobID

	newSource := "SELECT 2"
	updated, err := env.o.UpdateProgram(ctx, p.ID, nil, &newSource, p.Version)
	if err != nil {
		t.Fatalf("UpdateProgram: %v", err)
	}
	if updated.Status != domain.ProgramStatusUncompiled {
		t.Errorf("status = %s, want UNCOMPILED", updated.Status)
	}
	if updated.ArtifactRef != "" {
		t.Error("artifact should be invalidated by source edit")
	}

	found := false
	for _, cancelled := range env.comp.cancelled {
		if cancelled == jobID {
			found = true
		}
	}
	if !found {
		t.Errorf("job %s should be cancelled, cancelled: %v", jobID, env.comp.cancelled)
	}
	if _, tracked := env.o.trackedCompileJob(p.ID); tracked {
		t.Error("job should be untracked after source edit")
	}
}

func TestUpdateProgram_StaleVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, _ := env.o.CreateProgram(ctx, "p1", "SELECT 1")
	name := "renamed"
	if _, err := env.o.UpdateProgram(ctx, p.ID, &name, nil, p.Version); err != nil {
		t.Fatalf("UpdateProgram: %v", err)
	}

	// Повтор с той же (уже потреблённой) версией.
	other := "renamed-again"
	_, err := env.o.UpdateProgram(ctx, p.ID, &other, nil, p.Version)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("UpdateProgram error = %v, want ErrConcurrentModification", err)
	}
}

func TestUpdateProgram_GuardDeployed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := makeCompiledProgram(t, env, "p1")
	env.pipelines.seed(&domain.Pipeline{
		ID: uuid.New(), Name: "pl1", ProgramID: p.ID,
		Status: domain.PipelineStatusRunning, RuntimeHandle: "h1",
	})

	src := "SELECT 2"
	_, err := env.o.UpdateProgram(ctx, p.ID, nil, &src, p.Version)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("UpdateProgram error = %v, want ErrPrecondition", err)
	}
}

// --- Health reconciliation ---

func TestHealth_DeadThresholdFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")
	env.sup.setHealth("h1", supervisor.HealthDead)

	env.o.reconcileHealth(ctx)
	env.o.reconcileHealth(ctx)

	p, _ := env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusRunning {
		t.Fatalf("status after 2 probes = %s, want RUNNING", p.Status)
	}

	env.o.reconcileHealth(ctx)

	p, _ = env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusFailed {
		t.Fatalf("status after 3 probes = %s, want FAILED", p.Status)
	}
	if !strings.Contains(p.Error, "3 consecutive probes") {
		t.Errorf("failure reason = %q", p.Error)
	}
}

func TestHealth_UnknownNeitherCountsNorResets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	env.sup.setHealth("h1", supervisor.HealthDead)
	env.o.reconcileHealth(ctx)
	env.o.reconcileHealth(ctx)

	// Супервизор моргнул: Unknown не сбрасывает счётчик.
	env.sup.setHealth("h1", supervisor.HealthUnknown)
	env.o.reconcileHealth(ctx)

	p, _ := env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusRunning {
		t.Fatalf("unknown probe should not fail pipeline, got %s", p.Status)
	}

	env.sup.setHealth("h1", supervisor.HealthDead)
	env.o.reconcileHealth(ctx)

	p, _ = env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusFailed {
		t.Fatalf("third dead probe should fail pipeline, got %s", p.Status)
	}
}

func TestHealth_AliveResetsAndTouches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	env.sup.setHealth("h1", supervisor.HealthDead)
	env.o.reconcileHealth(ctx)
	env.o.reconcileHealth(ctx)

	env.sup.setHealth("h1", supervisor.HealthAlive)
	env.o.reconcileHealth(ctx)

	p, _ := env.pipelines.GetByID(ctx, id)
	if p.LastHealthyAt == nil {
		t.Error("alive probe should record last_healthy_at")
	}
	// TouchHealth не инкрементирует версию.
	if p.Version != 1 {
		t.Errorf("version = %d, want 1 (health probes must not bump version)", p.Version)
	}

	// Счётчик сброшен: нужны снова три Dead подряд.
	env.sup.setHealth("h1", supervisor.HealthDead)
	env.o.reconcileHealth(ctx)
	env.o.reconcileHealth(ctx)

	p, _ = env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusRunning {
		t.Fatalf("status = %s, want RUNNING (counter was reset)", p.Status)
	}

	env.o.reconcileHealth(ctx)
	p, _ = env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusFailed {
		t.Fatalf("status = %s, want FAILED", p.Status)
	}
}

func TestHealth_PausedIsWatched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID: id, Name: "pl1", ProgramID: uuid.New(),
		Status: domain.PipelineStatusPaused, RuntimeHandle: "h1",
	})
	env.sup.setHealth("h1", supervisor.HealthDead)

	for i := 0; i < 3; i++ {
		env.o.reconcileHealth(ctx)
	}

	p, _ := env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusFailed {
		t.Fatalf("paused pipeline with dead runtime should fail, got %s", p.Status)
	}
}

// --- Attach / Detach ---

func TestAttach_RoleOccupied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := makeCompiledProgram(t, env, "p1")
	c1 := makeBrokerIn(t, env, "c1")
	c2 := makeBrokerIn(t, env, "c2")

	if _, err := env.o.Attach(ctx, p.ID, c1.ID, "input0", domain.DirectionInput); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	_, err := env.o.Attach(ctx, p.ID, c2.ID, "input0", domain.DirectionInput)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Attach error = %v, want ErrValidation", err)
	}
}

func TestAttach_DirectionMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := makeCompiledProgram(t, env, "p1")
	sink := makeConnector(t, env, "dw", domain.DirectionOutput, domain.TransportWarehouseOut, map[string]any{
		"connection_ref": "secret://dw",
		"table":          "events",
	})

	_, err := env.o.Attach(ctx, p.ID, sink.ID, "input0", domain.DirectionInput)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Attach error = %v, want ErrValidation", err)
	}
}

func TestDetach_FrozenInSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "p1")
	conn := makeBrokerIn(t, env, "orders")
	att, err := env.o.Attach(ctx, program.ID, conn.ID, "input0", domain.DirectionInput)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	pl, _ := env.o.CreatePipeline(ctx, "pl1", program.ID)
	if _, err := env.o.Deploy(ctx, pl.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	waitStatus(t, env, pl.ID, domain.PipelineStatusRunning)

	if err := env.o.Detach(ctx, att.ID); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Detach error = %v, want ErrPrecondition", err)
	}

	// После shutdown снапшот больше не удерживает привязку.
	if _, err := env.o.Shutdown(ctx, pl.ID); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := env.o.Detach(ctx, att.ID); err != nil {
		t.Fatalf("Detach after shutdown: %v", err)
	}
}

// attach → detach → attach восстанавливает эквивалентную привязку:
// новый id, те же программа/коннектор/роль, без остаточного состояния.
func TestAttach_DetachAttachRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "p1")
	conn := makeBrokerIn(t, env, "orders")

	first, err := env.o.Attach(ctx, program.ID, conn.ID, "input0", domain.DirectionInput)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := env.o.Detach(ctx, first.ID); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	atts, err := env.attachments.ListByProgram(ctx, program.ID)
	if err != nil {
		t.Fatalf("ListByProgram: %v", err)
	}
	if len(atts) != 0 {
		t.Fatalf("attachments after detach = %d, want 0", len(atts))
	}

	second, err := env.o.Attach(ctx, program.ID, conn.ID, "input0", domain.DirectionInput)
	if err != nil {
		t.Fatalf("re-attach after detach: %v", err)
	}
	if second.ID == first.ID {
		t.Error("re-attach should mint a new id")
	}
	if second.ProgramID != program.ID || second.ConnectorID != conn.ID {
		t.Errorf("re-attached references = %s/%s, want %s/%s",
			second.ProgramID, second.ConnectorID, program.ID, conn.ID)
	}
	if second.Role != first.Role || second.RoleDirection != first.RoleDirection {
		t.Errorf("re-attached role = %s/%s, want %s/%s",
			second.Role, second.RoleDirection, first.Role, first.RoleDirection)
	}
}

// --- Catalog guards ---

func TestDeleteConnector_CascadesDetach(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := makeCompiledProgram(t, env, "p1")
	conn := makeBrokerIn(t, env, "orders")
	att, _ := env.o.Attach(ctx, p.ID, conn.ID, "input0", domain.DirectionInput)

	if err := env.o.DeleteConnector(ctx, conn.ID); err != nil {
		t.Fatalf("DeleteConnector: %v", err)
	}
	if _, err := env.attachments.GetByID(ctx, att.ID); err == nil {
		t.Error("attachment should be cascade-deleted with connector")
	}
}

func TestDeleteConnector_FrozenInSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := makeCompiledProgram(t, env, "p1")
	conn := makeBrokerIn(t, env, "orders")
	if _, err := env.o.Attach(ctx, program.ID, conn.ID, "input0", domain.DirectionInput); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	pl, _ := env.o.CreatePipeline(ctx, "pl1", program.ID)
	if _, err := env.o.Deploy(ctx, pl.ID); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	waitStatus(t, env, pl.ID, domain.PipelineStatusRunning)

	if err := env.o.DeleteConnector(ctx, conn.ID); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("DeleteConnector error = %v, want ErrPrecondition", err)
	}
}

func TestDeleteProgram_BlockedByPipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := makeCompiledProgram(t, env, "p1")
	pl, _ := env.o.CreatePipeline(ctx, "pl1", p.ID)

	if err := env.o.DeleteProgram(ctx, p.ID); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("DeleteProgram error = %v, want ErrPrecondition", err)
	}

	if err := env.o.DeletePipeline(ctx, pl.ID); err != nil {
		t.Fatalf("DeletePipeline: %v", err)
	}
	if err := env.o.DeleteProgram(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProgram after pipeline removal: %v", err)
	}
}

func TestDeletePipeline_OnlyFromShutdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedRunning(env, "pl1", "h1")

	if err := env.o.DeletePipeline(ctx, id); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("DeletePipeline error = %v, want ErrPrecondition", err)
	}

	if _, err := env.o.Shutdown(ctx, id); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := env.o.DeletePipeline(ctx, id); err != nil {
		t.Fatalf("DeletePipeline after shutdown: %v", err)
	}
}

// --- Crash recovery ---

func TestRecover_OrphanedProvisioningWithoutHandle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID: id, Name: "pl1", ProgramID: uuid.New(),
		Status: domain.PipelineStatusProvisioning,
	})

	if err := env.o.recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	p, _ := env.pipelines.GetByID(ctx, id)
	if p.Status != domain.PipelineStatusFailed {
		t.Fatalf("status = %s, want FAILED", p.Status)
	}
	if !strings.Contains(p.Error, "restart") {
		t.Errorf("failure reason = %q", p.Error)
	}
}

func TestRecover_ResumesReadinessWatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	prog := &domain.Program{
		ID: uuid.New(), Name: "p1", Source: "SELECT 1",
		Status: domain.ProgramStatusCompiled, ArtifactRef: "artifact:v1",
		CreatedAt: time.Now().UTC(),
	}
	if err := env.programs.Create(ctx, prog); err != nil {
		t.Fatalf("Create: %v", err)
	}

	id := uuid.New()
	env.pipelines.seed(&domain.Pipeline{
		ID: id, Name: "pl1", ProgramID: prog.ID,
		Status: domain.PipelineStatusProvisioning, RuntimeHandle: "h1",
		ArtifactRef: "artifact:v1",
	})
	env.sup.setHealth("h1", supervisor.HealthAlive)

	if err := env.o.recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	waitStatus(t, env, id, domain.PipelineStatusRunning)
}

func TestRecover_ReadoptsCompileJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := &domain.Program{
		ID:           uuid.New(),
		Name:         "p1",
		Source:       "SELECT 1",
		Status:       domain.ProgramStatusCompiling,
		CompileJobID: "job-42",
		CreatedAt:    time.Now().UTC(),
	}
	if err := env.programs.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.comp.setResult("job-42", compiler.Result{
		State:       compiler.JobStateSuccess,
		ArtifactRef: "artifact:v1",
	})

	if err := env.o.recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	env.o.pollCompileJobs(ctx)

	got, _ := env.programs.GetByID(ctx, p.ID)
	if got.Status != domain.ProgramStatusCompiled {
		t.Fatalf("status = %s, want COMPILED", got.Status)
	}
}

func TestRecover_CompilingWithoutJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := &domain.Program{
		ID:        uuid.New(),
		Name:      "p1",
		Source:    "SELECT 1",
		Status:    domain.ProgramStatusCompiling,
		CreatedAt: time.Now().UTC(),
	}
	if err := env.programs.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := env.o.recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	got, _ := env.programs.GetByID(ctx, p.ID)
	if got.Status != domain.ProgramStatusCompileFailed {
		t.Fatalf("status = %s, want COMPILE_FAILED", got.Status)
	}
}
