package domain

import (
	"time"

	"github.com/google/uuid"
)

// Program — пользовательская SQL-программа.
//
// Программа компилируется внешним сервисом в исполняемый артефакт.
// Статус компиляции мутируется только оркестратором в ответ на
// запросы компиляции и результаты компилятора.
//
// Version — счётчик оптимистичной конкурентности: каждое изменение
// обязано предъявить прочитанную версию, устаревшая запись отклоняется.
type Program struct {
	// ID — уникальный идентификатор программы.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя программы (например, "fraud-score", "sessionize").
	Name string `json:"name"`

	// Source — исходный текст SQL-программы.
	Source string `json:"source"`

	// Status — статус компиляции.
	Status ProgramStatus `json:"status"`

	// ArtifactRef — ссылка на скомпилированный артефакт.
	// Пустая, пока программа не в статусе COMPILED.
	ArtifactRef string `json:"artifact_ref,omitempty"`

	// Diagnostics — диагностика компилятора при COMPILE_FAILED,
	// сохраняется дословно.
	Diagnostics string `json:"diagnostics,omitempty"`

	// CompileJobID — задание компилятора, ожидающее результата.
	// Непустой только в статусе COMPILING; переживает рестарт manager,
	// чтобы тот мог переподхватить опрос задания.
	CompileJobID string `json:"compile_job_id,omitempty"`

	// Version — версия записи для conditional update.
	Version int `json:"version"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// MarkCompiling переводит программу в COMPILING.
// Сбрасывает артефакт и диагностику предыдущей попытки.
func (p *Program) MarkCompiling() {
	p.Status = ProgramStatusCompiling
	p.ArtifactRef = ""
	p.Diagnostics = ""
	p.CompileJobID = ""
}

// MarkCompiled переводит программу в COMPILED с артефактом.
func (p *Program) MarkCompiled(artifactRef string) {
	p.Status = ProgramStatusCompiled
	p.ArtifactRef = artifactRef
	p.Diagnostics = ""
	p.CompileJobID = ""
}

// MarkCompileFailed переводит программу в COMPILE_FAILED с диагностикой.
func (p *Program) MarkCompileFailed(diagnostics string) {
	p.Status = ProgramStatusCompileFailed
	p.ArtifactRef = ""
	p.Diagnostics = diagnostics
	p.CompileJobID = ""
}

// InvalidateCompilation сбрасывает результат компиляции после правки исходника.
// Старый артефакт больше не соответствует тексту программы.
func (p *Program) InvalidateCompilation() {
	p.Status = ProgramStatusUncompiled
	p.ArtifactRef = ""
	p.Diagnostics = ""
	p.CompileJobID = ""
}
