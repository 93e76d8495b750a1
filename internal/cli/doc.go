// Package cli содержит команды управляющей утилиты cascade.
//
// Структура:
//   - client.go    — HTTP-клиент для Cascade API
//   - output.go    — форматирование вывода (таблицы, JSON)
//   - program.go   — команды для программ и привязок
//   - connector.go — команды для коннекторов
//   - pipeline.go  — команды для pipelines
//   - schedule.go  — команды для расписаний
//
// CLI разговаривает только с HTTP API manager-а и не трогает БД напрямую.
package cli
