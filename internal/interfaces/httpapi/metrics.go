package httpapi

import (
	"sync"
	"time"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// Metrics collects worker-pool and transaction lifecycle counters. It plugs
// into the pools as their observer and into the event bus for outcomes.
type Metrics struct {
	mu                sync.RWMutex
	startTime         time.Time
	jobsCompleted     map[string]uint64
	jobsRetried       map[string]uint64
	jobsFailed        map[string]uint64
	jobsDelayed       map[string]uint64
	submitted         uint64
	confirmedSuccess  uint64
	confirmedReverted uint64
	confirmedUnknown  uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime:     time.Now(),
		jobsCompleted: make(map[string]uint64),
		jobsRetried:   make(map[string]uint64),
		jobsFailed:    make(map[string]uint64),
		jobsDelayed:   make(map[string]uint64),
	}
}

func (m *Metrics) OnJobCompleted(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsCompleted[queue]++
}

func (m *Metrics) OnJobRetried(queue string, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsRetried[queue]++
}

func (m *Metrics) OnJobFailed(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsFailed[queue]++
}

func (m *Metrics) OnJobDelayed(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsDelayed[queue]++
}

func (m *Metrics) OnSubmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted++
}

func (m *Metrics) OnConfirmed(status domain.ConfirmationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch status {
	case domain.ConfirmationSuccess:
		m.confirmedSuccess++
	case domain.ConfirmationReverted:
		m.confirmedReverted++
	case domain.ConfirmationUnknown:
		m.confirmedUnknown++
	}
}

type Snapshot struct {
	StartTime         time.Time
	JobsCompleted     map[string]uint64
	JobsRetried       map[string]uint64
	JobsFailed        map[string]uint64
	JobsDelayed       map[string]uint64
	Submitted         uint64
	ConfirmedSuccess  uint64
	ConfirmedReverted uint64
	ConfirmedUnknown  uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:         m.startTime,
		JobsCompleted:     copyCounts(m.jobsCompleted),
		JobsRetried:       copyCounts(m.jobsRetried),
		JobsFailed:        copyCounts(m.jobsFailed),
		JobsDelayed:       copyCounts(m.jobsDelayed),
		Submitted:         m.submitted,
		ConfirmedSuccess:  m.confirmedSuccess,
		ConfirmedReverted: m.confirmedReverted,
		ConfirmedUnknown:  m.confirmedUnknown,
	}
}

func copyCounts(source map[string]uint64) map[string]uint64 {
	if len(source) == 0 {
		return nil
	}
	clone := make(map[string]uint64, len(source))
	for key, value := range source {
		clone[key] = value
	}
	return clone
}
