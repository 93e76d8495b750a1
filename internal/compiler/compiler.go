// Package compiler — клиент внешнего сервиса компиляции программ.
//
// Компиляция долгая и асинхронная: Submit возвращает job id,
// результат забирается периодическим Poll. Control plane видит
// компилятор только через этот интерфейс.
package compiler

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Ошибки клиента компилятора.
var (
	// ErrJobNotFound — job id неизвестен компилятору.
	ErrJobNotFound = errors.New("compile job not found")

	// ErrUnavailable — сервис компиляции недоступен после всех повторов.
	ErrUnavailable = errors.New("compiler unavailable")
)

// JobState — состояние задания компиляции.
type JobState string

const (
	// JobStatePending — задание в очереди или компилируется.
	JobStatePending JobState = "PENDING"

	// JobStateSuccess — компиляция завершена, артефакт готов.
	JobStateSuccess JobState = "SUCCESS"

	// JobStateFailure — компилятор вернул ошибку.
	JobStateFailure JobState = "FAILURE"
)

// Result — результат опроса задания.
type Result struct {
	// State — состояние задания.
	State JobState

	// ArtifactRef — ссылка на артефакт (только при SUCCESS).
	ArtifactRef string

	// Diagnostics — диагностика компилятора (только при FAILURE),
	// передаётся вызывающему дословно.
	Diagnostics string
}

// Client — интерфейс сервиса компиляции.
//
// Submit идемпотентен по отношению к повторной отправке того же
// программного текста; коалесцирование конкурентных запросов —
// забота оркестратора, а не клиента.
type Client interface {
	// Submit отправляет исходник на компиляцию и возвращает job id.
	Submit(ctx context.Context, programID uuid.UUID, source string) (string, error)

	// Poll возвращает текущее состояние задания.
	Poll(ctx context.Context, jobID string) (Result, error)

	// Cancel отменяет задание (best effort: поздний результат игнорируется).
	Cancel(ctx context.Context, jobID string) error
}
