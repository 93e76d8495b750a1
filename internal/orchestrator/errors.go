package orchestrator

import "errors"

// Таксономия ошибок оркестратора.
//
// Все ошибки возвращаются синхронно вызывающему, кроме ErrCompile и
// ErrSupervisor из асинхронных заданий: те записываются в статус
// владеющей записи (диагностика программы, причина отказа pipeline)
// и видны при следующем чтении.
var (
	// ErrNotFound — программа, коннектор, привязка или pipeline не найдены.
	ErrNotFound = errors.New("not found")

	// ErrPrecondition — состояние не допускает запрошенную операцию
	// (deploy некомпилированной программы, удаление используемой записи).
	ErrPrecondition = errors.New("precondition failed")

	// ErrInvalidTransition — переход не разрешён из текущего статуса
	// (pause не из RUNNING, resume не из PAUSED).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation — конфигурация коннектора или роль несовместимы.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification — конфликт версий не разрешился
	// за отведённые повторы; вызывающий должен перечитать и повторить.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrCompile — компилятор сообщил об ошибке (диагностика прилагается).
	ErrCompile = errors.New("compile failed")

	// ErrSupervisor — супервизор не смог запустить процесс или не отвечает.
	ErrSupervisor = errors.New("supervisor error")

	// ErrInternal — каталог недоступен или нарушен инвариант.
	// Никогда не глотается молча.
	ErrInternal = errors.New("internal error")
)
