// Package supervisor — клиент супервизора runtime-процессов.
//
// Супервизор запускает, сигналит и проверяет здоровье процессов
// развёрнутых pipelines. Контракт: не более одного живого handle
// на pipeline id; оркестратор не вызывает Start повторно без
// промежуточного terminate или наблюдения Dead.
package supervisor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shaiso/Cascade/internal/domain"
)

// Ошибки супервизора.
var (
	// ErrStartFailed — процесс не удалось запустить.
	ErrStartFailed = errors.New("runtime start failed")

	// ErrUnknownHandle — handle неизвестен супервизору.
	ErrUnknownHandle = errors.New("unknown runtime handle")

	// ErrUnavailable — супервизор недоступен. Health-реконсилятор
	// трактует это как Unknown, а не как Dead.
	ErrUnavailable = errors.New("supervisor unavailable")
)

// Signal — сигнал runtime-процессу.
type Signal string

const (
	// SignalPause — приостановить потребление входных данных
	// (процесс остаётся жив). Ack означает квиесценцию.
	SignalPause Signal = "pause"

	// SignalResume — возобновить потребление.
	SignalResume Signal = "resume"

	// SignalTerminate — мягкое завершение процесса.
	SignalTerminate Signal = "terminate"

	// SignalKill — принудительное завершение после истечения grace period.
	SignalKill Signal = "kill"
)

// HealthState — наблюдаемое здоровье процесса.
type HealthState string

const (
	// HealthAlive — процесс жив и отвечает.
	HealthAlive HealthState = "ALIVE"

	// HealthDegraded — процесс жив, но деградировал (отставание, ошибки).
	HealthDegraded HealthState = "DEGRADED"

	// HealthDead — процесс отсутствует.
	HealthDead HealthState = "DEAD"

	// HealthUnknown — супервизор не смог ответить; не считается
	// наблюдением смерти (сетевой сбой не должен ронять pipeline).
	HealthUnknown HealthState = "UNKNOWN"
)

// StartRequest — запрос на запуск runtime-процесса pipeline.
type StartRequest struct {
	// PipelineID — идентификатор pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// ArtifactRef — скомпилированный артефакт программы.
	ArtifactRef string `json:"artifact_ref"`

	// Connectors — замороженный снапшот привязок с разрешёнными
	// конфигурациями; именно их получает runtime, а не живые записи.
	Connectors []domain.AttachedConnector `json:"connectors"`
}

// Client — интерфейс супервизора.
type Client interface {
	// Start запускает процесс и возвращает непрозрачный handle.
	Start(ctx context.Context, req StartRequest) (string, error)

	// Signal посылает сигнал процессу. Для SignalPause успешный
	// возврат означает подтверждённую квиесценцию.
	Signal(ctx context.Context, handle string, sig Signal) error

	// Health возвращает наблюдаемое здоровье процесса.
	Health(ctx context.Context, handle string) (HealthState, error)
}
