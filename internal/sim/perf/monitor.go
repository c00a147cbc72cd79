// Package perf aggregates guard AI counters per world and flushes them as periodic reports.
package perf

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"guardsim.ai/internal/sim/pathcache"
	"guardsim.ai/internal/sim/tuning"
)

// Metric summarizes the samples recorded under one name.
type Metric struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

type Report struct {
	FromTick uint64 `json:"from_tick"`
	ToTick   uint64 `json:"to_tick"`

	AIUpdates        int64   `json:"ai_updates"`
	AISkipped        int64   `json:"ai_skipped"`
	AIReductionPct   float64 `json:"ai_reduction_pct"`
	ThreatScans      int64   `json:"threat_scans"`
	ScansSkipped     int64   `json:"scans_skipped"`
	ScanReductionPct float64 `json:"scan_reduction_pct"`

	Metrics   map[string]Metric `json:"metrics,omitempty"`
	PathCache pathcache.Stats   `json:"path_cache"`
}

// MetricNames returns the report's metric names in sorted order.
func (r Report) MetricNames() []string {
	names := make([]string, 0, len(r.Metrics))
	for n := range r.Metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type sample struct {
	count    int64
	sum      float64
	min, max float64
}

// Monitor is safe for concurrent use. Counters are lock-free; named samples
// share one mutex.
type Monitor struct {
	every uint64

	aiUpdates    atomic.Int64
	aiSkipped    atomic.Int64
	threatScans  atomic.Int64
	scansSkipped atomic.Int64

	mu         sync.Mutex
	samples    map[string]*sample
	lastReport uint64

	last atomic.Pointer[Report]
}

func New(cfg tuning.Monitor) *Monitor {
	every := cfg.ReportEveryTicks
	if every <= 0 {
		every = tuning.Defaults().Monitor.ReportEveryTicks
	}
	return &Monitor{every: uint64(every), samples: map[string]*sample{}}
}

func (m *Monitor) RecordAIUpdate()          { m.aiUpdates.Add(1) }
func (m *Monitor) RecordSkippedAIUpdate()   { m.aiSkipped.Add(1) }
func (m *Monitor) RecordThreatScan()        { m.threatScans.Add(1) }
func (m *Monitor) RecordSkippedThreatScan() { m.scansSkipped.Add(1) }

func (m *Monitor) RecordMetric(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.samples[name]
	if s == nil {
		s = &sample{min: math.Inf(1), max: math.Inf(-1)}
		m.samples[name] = s
	}
	s.count++
	s.sum += value
	s.min = math.Min(s.min, value)
	s.max = math.Max(s.max, value)
}

func reduction(done, skipped int64) float64 {
	total := done + skipped
	if total == 0 {
		return 0
	}
	return float64(skipped) * 100 / float64(total)
}

func (m *Monitor) AIReductionPercent() float64 {
	return reduction(m.aiUpdates.Load(), m.aiSkipped.Load())
}

func (m *Monitor) ScanReductionPercent() float64 {
	return reduction(m.threatScans.Load(), m.scansSkipped.Load())
}

// Tick flushes a report and resets every counter once the report interval has
// elapsed since the previous flush.
func (m *Monitor) Tick(now uint64) (Report, bool) {
	m.mu.Lock()
	if now < m.lastReport || now-m.lastReport < m.every {
		m.mu.Unlock()
		return Report{}, false
	}
	m.mu.Unlock()
	return m.Flush(now), true
}

// Flush builds a report for the window ending at now and resets the counters.
func (m *Monitor) Flush(now uint64) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{
		FromTick:     m.lastReport,
		ToTick:       now,
		AIUpdates:    m.aiUpdates.Swap(0),
		AISkipped:    m.aiSkipped.Swap(0),
		ThreatScans:  m.threatScans.Swap(0),
		ScansSkipped: m.scansSkipped.Swap(0),
	}
	r.AIReductionPct = reduction(r.AIUpdates, r.AISkipped)
	r.ScanReductionPct = reduction(r.ThreatScans, r.ScansSkipped)
	if len(m.samples) > 0 {
		r.Metrics = make(map[string]Metric, len(m.samples))
		for name, s := range m.samples {
			r.Metrics[name] = Metric{Count: s.count, Sum: s.sum, Min: s.min, Max: s.max, Avg: s.sum / float64(s.count)}
		}
	}
	m.samples = map[string]*sample{}
	m.lastReport = now

	cp := r
	m.last.Store(&cp)
	return r
}

// Last returns the most recent report, if any.
func (m *Monitor) Last() (Report, bool) {
	r := m.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}
