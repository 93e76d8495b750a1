// Package scheduler реализует планировщик действий над pipelines.
//
// Scheduler периодически проверяет расписания с истекшим next_due_at
// и публикует соответствующее действие (deploy, pause, resume,
// shutdown) в очередь pipelines.actions. Само действие выполняет
// оркестратор по обычным правилам переходов: сработавшее невпопад
// расписание получает отказ, а не ломает машину состояний.
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно — это делается
// в main.go через pg_try_advisory_lock. Метод Tick() вызывается только
// лидером.
package scheduler
