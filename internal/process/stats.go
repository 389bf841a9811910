package process

import (
	"sync/atomic"
	"time"
)

// Stats backs the health surface. Prometheus collectors cover the scrape
// path; this keeps the same numbers queryable as JSON.
type Stats struct {
	start          time.Time
	processed      atomic.Uint64
	failed         atomic.Uint64
	latencyTotalUs atomic.Int64
	workers        atomic.Int64
}

func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

func (s *Stats) RecordSuccess(elapsed time.Duration) {
	s.processed.Add(1)
	s.latencyTotalUs.Add(elapsed.Microseconds())
}

func (s *Stats) RecordFailure(elapsed time.Duration) {
	s.failed.Add(1)
	s.latencyTotalUs.Add(elapsed.Microseconds())
}

func (s *Stats) WorkerStarted() { s.workers.Add(1) }
func (s *Stats) WorkerStopped() { s.workers.Add(-1) }

type StatsSnapshot struct {
	MessagesProcessed uint64  `json:"messages_processed"`
	MessagesFailed    uint64  `json:"messages_failed"`
	RatePerSecond     float64 `json:"rate_per_second"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	ActiveWorkers     int64   `json:"active_workers"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	processed := s.processed.Load()
	failed := s.failed.Load()
	total := processed + failed

	snap := StatsSnapshot{
		MessagesProcessed: processed,
		MessagesFailed:    failed,
		ActiveWorkers:     s.workers.Load(),
	}

	if elapsed := time.Since(s.start).Seconds(); elapsed > 0 {
		snap.RatePerSecond = float64(total) / elapsed
	}
	if total > 0 {
		snap.AvgLatencyMs = float64(s.latencyTotalUs.Load()) / float64(total) / 1000
	}
	return snap
}
