package systems

import (
	"sync"
	"time"
)

// System is a per-frame processor stepped by the frame loop.
type System interface {
	// Identity

	Name() string

	// Execution

	Update(deltaTime float64) error
	Reset() error

	// State management

	IsEnabled() bool
	SetEnabled(bool)

	// Performance monitoring

	GetMetrics() Metrics
}

// Metrics provides runtime metrics for a system
type Metrics struct {
	ExecutionCount       uint64        `json:"execution_count"`
	TotalExecutionTime   time.Duration `json:"total_execution_time"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	MaxExecutionTime     time.Duration `json:"max_execution_time"`
	MinExecutionTime     time.Duration `json:"min_execution_time"`
	ErrorCount           uint64        `json:"error_count"`
	LastError            string        `json:"last_error,omitempty"`
	LastExecutionTime    time.Time     `json:"last_execution_time"`
}

// Tracker accumulates Metrics. The zero value is ready to use.
type Tracker struct {
	mu      sync.Mutex
	metrics Metrics
}

// Record adds one execution that began at start.
func (t *Tracker) Record(start time.Time, err error) {
	elapsed := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()

	m := &t.metrics
	m.ExecutionCount++
	m.TotalExecutionTime += elapsed
	m.AverageExecutionTime = m.TotalExecutionTime / time.Duration(m.ExecutionCount)
	if elapsed > m.MaxExecutionTime {
		m.MaxExecutionTime = elapsed
	}
	if m.ExecutionCount == 1 || elapsed < m.MinExecutionTime {
		m.MinExecutionTime = elapsed
	}
	m.LastExecutionTime = start
	if err != nil {
		m.ErrorCount++
		m.LastError = err.Error()
	}
}

func (t *Tracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.metrics = Metrics{}
	t.mu.Unlock()
}
