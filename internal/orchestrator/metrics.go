package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестратора.
var (
	// transitionsTotal — количество переходов pipelines по целевому статусу.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_pipeline_transitions_total",
		Help: "Pipeline state transitions by target status.",
	}, []string{"to"})

	// casConflictsTotal — конфликты версий при conditional update.
	casConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_version_conflicts_total",
		Help: "Optimistic concurrency conflicts detected on catalog writes.",
	})

	// healthProbesTotal — health-опросы по наблюдаемому состоянию.
	healthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_health_probes_total",
		Help: "Supervisor health probes by observed state.",
	}, []string{"state"})

	// compileJobsTotal — задания компиляции по исходу.
	compileJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_compile_jobs_total",
		Help: "Compile jobs by outcome.",
	}, []string{"outcome"})
)
