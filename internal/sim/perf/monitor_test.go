package perf

import (
	"sync"
	"testing"

	"guardsim.ai/internal/sim/tuning"
)

func TestMonitor_ReportsAndResets(t *testing.T) {
	m := New(tuning.Monitor{ReportEveryTicks: 100})
	for i := 0; i < 3; i++ {
		m.RecordAIUpdate()
	}
	m.RecordSkippedAIUpdate()
	m.RecordThreatScan()
	m.RecordSkippedThreatScan()
	m.RecordSkippedThreatScan()
	m.RecordSkippedThreatScan()
	m.RecordMetric("detect_us", 10)
	m.RecordMetric("detect_us", 30)

	if got := m.AIReductionPercent(); got != 25 {
		t.Fatalf("ai reduction=%v want 25", got)
	}
	if _, ok := m.Tick(99); ok {
		t.Fatalf("report before interval")
	}
	r, ok := m.Tick(100)
	if !ok {
		t.Fatalf("expected report at tick 100")
	}
	if r.AIUpdates != 3 || r.AISkipped != 1 || r.ScanReductionPct != 75 {
		t.Fatalf("report=%+v", r)
	}
	got := r.Metrics["detect_us"]
	if got.Count != 2 || got.Min != 10 || got.Max != 30 || got.Avg != 20 {
		t.Fatalf("metric=%+v", got)
	}
	if names := r.MetricNames(); len(names) != 1 || names[0] != "detect_us" {
		t.Fatalf("names=%v", names)
	}

	if m.AIReductionPercent() != 0 {
		t.Fatalf("counters should reset after a report")
	}
	if _, ok := m.Tick(150); ok {
		t.Fatalf("interval restarts at the last report")
	}
	r2, ok := m.Tick(200)
	if !ok || r2.FromTick != 100 || r2.AIUpdates != 0 || r2.Metrics != nil {
		t.Fatalf("second report=%+v ok=%v", r2, ok)
	}
	if last, ok := m.Last(); !ok || last.ToTick != 200 {
		t.Fatalf("last=%+v", last)
	}
}

func TestMonitor_ConcurrentRecording(t *testing.T) {
	m := New(tuning.Monitor{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.RecordAIUpdate()
				m.RecordMetric("x", float64(i))
			}
		}()
	}
	wg.Wait()
	r := m.Flush(1)
	if r.AIUpdates != 8000 || r.Metrics["x"].Count != 8000 {
		t.Fatalf("report=%+v", r)
	}
}
