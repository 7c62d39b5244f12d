// Package metrics exposes the scheduler's Prometheus collectors. Everything
// registers on the default registry and is served by the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfetch",
		Name:      "tasks_ingested_total",
		Help:      "Tasks accepted from ingest sources, by site.",
	}, []string{"site"})

	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfetch",
		Name:      "tasks_completed_total",
		Help:      "Tasks that finished successfully, by site.",
	}, []string{"site"})

	tasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfetch",
		Name:      "tasks_failed_total",
		Help:      "Task attempts that failed, by site.",
	}, []string{"site"})

	tasksAbandoned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfetch",
		Name:      "tasks_abandoned_total",
		Help:      "Tasks dropped after exhausting retries, by site.",
	}, []string{"site"})

	retriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfetch",
		Name:      "retries_scheduled_total",
		Help:      "Tasks re-queued through the delay queue, by site.",
	}, []string{"site"})

	workerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "storyfetch",
		Name:      "worker_restarts_total",
		Help:      "Worker goroutines restarted by the pool supervisor.",
	})

	notifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storyfetch",
		Name:      "notify_failures_total",
		Help:      "Notification sends that failed after retries, by backend.",
	}, []string{"backend"})

	backlogDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storyfetch",
		Name:      "backlog_depth",
		Help:      "Tasks waiting in the coordinator backlog.",
	})

	idleWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storyfetch",
		Name:      "idle_workers",
		Help:      "Workers with no current site assignment.",
	})

	activeSites = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storyfetch",
		Name:      "active_sites",
		Help:      "Sites currently assigned to a worker.",
	})
)

func TaskIngested(site string)    { tasksIngested.WithLabelValues(site).Inc() }
func TaskCompleted(site string)   { tasksCompleted.WithLabelValues(site).Inc() }
func TaskFailed(site string)      { tasksFailed.WithLabelValues(site).Inc() }
func TaskAbandoned(site string)   { tasksAbandoned.WithLabelValues(site).Inc() }
func RetryScheduled(site string)  { retriesScheduled.WithLabelValues(site).Inc() }
func WorkerRestarted()            { workerRestarts.Inc() }
func NotifyFailed(backend string) { notifyFailures.WithLabelValues(backend).Inc() }

func SetBacklogDepth(n int) { backlogDepth.Set(float64(n)) }
func SetIdleWorkers(n int)  { idleWorkers.Set(float64(n)) }
func SetActiveSites(n int)  { activeSites.Set(float64(n)) }
