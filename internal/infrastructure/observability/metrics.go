package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Переходы состояний транзакций выдачи
	LendingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lending_transitions_total",
			Help: "Total number of committed lending status transitions",
		},
		[]string{"from", "to"},
	)

	GradePromotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grade_promotion_runs_total",
			Help: "Total number of annual grade promotion runs",
		},
		[]string{"status"},
	)

	registerOnce sync.Once
)

// InitMetrics registers the service collectors with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RepositoryCalls, RepositoryDuration, LendingTransitions, GradePromotions)
	})
}
