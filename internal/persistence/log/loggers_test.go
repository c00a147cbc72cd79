package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"guardsim.ai/internal/sim/threat"
	"guardsim.ai/internal/sim/world"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	var out []string
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readLines(t, filepath.Join(dir, "events-2026-03-01-10.jsonl.zst"))
	if diff := cmp.Diff([]string{`{"n":1}`, `{"n":2}`}, first); diff != "" {
		t.Fatalf("hour 10 (-want +got):\n%s", diff)
	}
	second := readLines(t, filepath.Join(dir, "events-2026-03-01-11.jsonl.zst"))
	if diff := cmp.Diff([]string{`{"n":3}`}, second); diff != "" {
		t.Fatalf("hour 11 (-want +got):\n%s", diff)
	}
}

func TestJSONLZstdWriter_RejectsUnencodable(t *testing.T) {
	w := NewJSONLZstdWriter(t.TempDir(), "x")
	defer w.Close()
	if err := w.Write(func() {}); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestSet_WritesEachEventKind(t *testing.T) {
	dir := t.TempDir()
	s := NewSet(dir)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, w := range []*JSONLZstdWriter{s.Threats.w, s.Purchases.w, s.Reports.w} {
		w.now = func() time.Time { return clock }
	}
	var errs []string
	s.OnError = func(kind string, err error) { errs = append(errs, kind+": "+err.Error()) }

	zombie := uuid.New()
	s.OnThreat(world.ThreatEvent{WorldID: "w1", Tick: 7, Source: world.ThreatSourceAttack,
		Record: threat.Record{ThreatID: zombie, Priority: threat.PlayerUnderAttack, Kind: threat.KindActiveAttack}})
	s.OnPurchase(world.PurchaseEvent{WorldID: "w1", Tick: 8, Rank: "knight", Reason: "E_PATH_LOCKED"})
	s.OnReport(world.ReportEvent{WorldID: "w1", Tick: 9})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("write errors: %v", errs)
	}

	lines := readLines(t, filepath.Join(dir, "threats", "threats-2026-03-01-12.jsonl.zst"))
	if len(lines) != 1 {
		t.Fatalf("threat lines=%d", len(lines))
	}
	var got world.ThreatEvent
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Record.ThreatID != zombie || got.Record.Priority != threat.PlayerUnderAttack || got.Tick != 7 {
		t.Fatalf("threat=%+v", got)
	}

	if lines := readLines(t, filepath.Join(dir, "audit", "purchases-2026-03-01-12.jsonl.zst")); len(lines) != 1 {
		t.Fatalf("purchase lines=%d", len(lines))
	}
	if lines := readLines(t, filepath.Join(dir, "perf", "perf-2026-03-01-12.jsonl.zst")); len(lines) != 1 {
		t.Fatalf("report lines=%d", len(lines))
	}
}

var _ world.Sink = (*Set)(nil)
