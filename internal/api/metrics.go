package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime    time.Time
	requests     atomic.Int64
	serverErrors atomic.Int64
	clientErrors atomic.Int64
	pullRequests atomic.Int64
	pushRequests atomic.Int64
	pulledRows   atomic.Int64
	pushedRows   atomic.Int64
	conflicts    atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	ServerErrors  int64   `json:"server_errors"`
	ClientErrors  int64   `json:"client_errors"`
	PullRequests  int64   `json:"pull_requests"`
	PushRequests  int64   `json:"push_requests"`
	PulledRows    int64   `json:"pulled_rows"`
	PushedRows    int64   `json:"pushed_rows"`
	Conflicts     int64   `json:"conflicts"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordPull counts a served pull page and the change entries it carried.
func (m *Metrics) RecordPull(rows int) {
	m.pullRequests.Add(1)
	m.pulledRows.Add(int64(rows))
}

// RecordPush counts an applied push, its submitted entries and lost updates.
func (m *Metrics) RecordPush(rows, conflicts int) {
	m.pushRequests.Add(1)
	m.pushedRows.Add(int64(rows))
	m.conflicts.Add(int64(conflicts))
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		PullRequests:  m.pullRequests.Load(),
		PushRequests:  m.pushRequests.Load(),
		PulledRows:    m.pulledRows.Load(),
		PushedRows:    m.pushedRows.Load(),
		Conflicts:     m.conflicts.Load(),
	}
}
