package pool

import (
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a point-in-time read of the pool's monotonic counters
// plus live gauges, suitable for JSON encoding (internal/adminapi exposes
// it directly over GET /metrics).
type MetricsSnapshot struct {
	CompletedJobs      int64         `json:"completedJobs"`
	FailedJobs         int64         `json:"failedJobs"`
	WorkerRestarts     int64         `json:"workerRestarts"`
	TotalExecutionTime time.Duration `json:"totalExecutionTimeNs"`
	AvgExecutionTime   time.Duration `json:"avgExecutionTimeNs"`
	ActiveJobs         int           `json:"activeJobs"`
	QueueDepth         int           `json:"queueDepth"`
	WorkerCount        int           `json:"workerCount"`
	Uptime             time.Duration `json:"uptimeNs"`
}

// metricsRecorder holds monotonic counters behind atomics, mirroring the
// teacher/noisefs pattern of plain int64 atomics read into a value struct
// on demand rather than a dedicated metrics library (none is present
// anywhere in the retrieved pack's dependency surface).
type metricsRecorder struct {
	completedJobs      atomic.Int64
	failedJobs         atomic.Int64
	workerRestarts     atomic.Int64
	totalExecutionTime atomic.Int64 // nanoseconds

	startTime atomic.Int64 // UnixNano, rebased on reset
}

func newMetricsRecorder(now time.Time) *metricsRecorder {
	m := &metricsRecorder{}
	m.startTime.Store(now.UnixNano())
	return m
}

func (m *metricsRecorder) recordCompletion(execTime time.Duration) {
	m.completedJobs.Add(1)
	m.totalExecutionTime.Add(int64(execTime))
}

func (m *metricsRecorder) recordFailure() {
	m.failedJobs.Add(1)
}

func (m *metricsRecorder) recordRestart() {
	m.workerRestarts.Add(1)
}

// reset zeroes every counter and rebases startTime to now.
func (m *metricsRecorder) reset(now time.Time) {
	m.completedJobs.Store(0)
	m.failedJobs.Store(0)
	m.workerRestarts.Store(0)
	m.totalExecutionTime.Store(0)
	m.startTime.Store(now.UnixNano())
}

// snapshot composes the monotonic counters with the live gauges supplied
// by the caller (which must come from the Pool's run loop, the only place
// that knows activeJobs/queueDepth/workerCount consistently).
func (m *metricsRecorder) snapshot(now time.Time, activeJobs, queueDepth, workerCount int) MetricsSnapshot {
	completed := m.completedJobs.Load()
	total := time.Duration(m.totalExecutionTime.Load())

	var avg time.Duration
	if completed > 0 {
		avg = total / time.Duration(completed)
	}

	return MetricsSnapshot{
		CompletedJobs:      completed,
		FailedJobs:         m.failedJobs.Load(),
		WorkerRestarts:     m.workerRestarts.Load(),
		TotalExecutionTime: total,
		AvgExecutionTime:   avg,
		ActiveJobs:         activeJobs,
		QueueDepth:         queueDepth,
		WorkerCount:        workerCount,
		Uptime:             now.Sub(time.Unix(0, m.startTime.Load())),
	}
}
