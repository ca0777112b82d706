// Package metrics holds the Prometheus collectors shared by the task engine
// and the server binary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sends tracks send attempts by outcome.
	// Labels:
	//   - outcome: "success", "retry", "abandoned" or "fault"
	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "looprelay_sends_total",
		Help: "Send attempts by outcome",
	}, []string{"outcome"})

	// Logins tracks session acquisitions by result ("success", "retry", "exhausted").
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "looprelay_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	// Restarts counts session restarts by trigger ("fault", "watchdog", "panic").
	Restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "looprelay_restarts_total",
		Help: "Task restarts by trigger",
	}, []string{"trigger"})

	// Loops counts completed passes over a task's message queue.
	Loops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "looprelay_loops_total",
		Help: "Completed message loops",
	})

	// SendDuration tracks gateway send latency in seconds.
	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "looprelay_send_duration_seconds",
		Help:    "Duration of gateway send calls",
		Buckets: prometheus.DefBuckets,
	})

	// RunningTasks is refreshed by the registry on every sweep.
	RunningTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "looprelay_running_tasks",
		Help: "Number of registered tasks that are running",
	})

	// Snapshots tracks persistence writes by result ("success", "error").
	Snapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "looprelay_snapshots_total",
		Help: "Snapshot writes by result",
	}, []string{"result"})
)
