// Package orchestrator управляет жизненным циклом pipelines.
//
// Orchestrator — ядро control plane и единственный писатель статусов
// pipelines и программ. Он сводит три независимо меняющихся факта —
// правки каталога, асинхронные результаты компиляции и здоровье живых
// процессов — в одну авторитетную машину состояний:
//   - Переходы deploy/pause/resume/shutdown с optimistic concurrency
//   - Компиляция программ через внешний сервис (submit/poll/cancel,
//     коалесцирование конкурентных запросов)
//   - Привязка коннекторов с валидацией ролей и конфигураций
//   - Заморозка снапшота привязок в момент deploy
//   - Health-реконсиляция запущенных процессов (фоновый цикл)
//
// Запись в каталог, помечающая pipeline как RUNNING, происходит строго
// после того, как runtime подтвердил готовность: каталог никогда не
// обещает процесс, которого нет.
package orchestrator
