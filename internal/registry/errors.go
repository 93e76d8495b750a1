package registry

import "errors"

// Ошибки реестра коннекторов.
var (
	// ErrUnknownTransport — вид транспорта не зарегистрирован.
	ErrUnknownTransport = errors.New("unknown transport kind")

	// ErrInvalidConfig — конфигурация не прошла структурную проверку.
	ErrInvalidConfig = errors.New("invalid connector config")

	// ErrDirectionMismatch — направление коннектора несовместимо
	// с транспортом или ролью.
	ErrDirectionMismatch = errors.New("direction mismatch")
)
