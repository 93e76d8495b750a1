// Package telemetry — настройка structured logging (slog)
// и хелперы для протаскивания логгера через контекст.
package telemetry
