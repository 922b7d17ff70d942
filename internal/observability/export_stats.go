package observability

import (
	"sync/atomic"
	"time"
)

// ExportStats is the worker's in-process tally, served on /stats. Prometheus
// carries the same outcomes for dashboards; this one is for a quick curl.
type ExportStats struct {
	received     atomic.Uint64
	delivered    atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	dropped      atomic.Uint64

	// nanoseconds
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewExportStats() *ExportStats {
	return &ExportStats{}
}

func (m *ExportStats) IncReceived()     { m.received.Add(1) }
func (m *ExportStats) IncDelivered()    { m.delivered.Add(1) }
func (m *ExportStats) IncRetried()      { m.retried.Add(1) }
func (m *ExportStats) IncDeadLettered() { m.deadLettered.Add(1) }
func (m *ExportStats) IncDropped()      { m.dropped.Add(1) }

func (m *ExportStats) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type ExportStatsSnapshot struct {
	Received        uint64        `json:"received"`
	Delivered       uint64        `json:"delivered"`
	Retried         uint64        `json:"retried"`
	DeadLettered    uint64        `json:"deadLettered"`
	Dropped         uint64        `json:"dropped"`
	DurationCount   uint64        `json:"durationCount"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

func (m *ExportStats) Snapshot() ExportStatsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return ExportStatsSnapshot{
		Received:        m.received.Load(),
		Delivered:       m.delivered.Load(),
		Retried:         m.retried.Load(),
		DeadLettered:    m.deadLettered.Load(),
		Dropped:         m.dropped.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.durationMax.Load()),
	}
}
