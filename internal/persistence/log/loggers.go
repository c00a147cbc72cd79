package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"guardsim.ai/internal/sim/world"
)

// JSONLZstdWriter appends one JSON document per line to an hourly zstd file.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	p := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return errors.Join(errs...)
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ThreatLogger writes one entry per threat event (compressed).
type ThreatLogger struct{ w *JSONLZstdWriter }

func NewThreatLogger(worldDir string) *ThreatLogger {
	return &ThreatLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "threats"), "threats")}
}

func (l *ThreatLogger) WriteThreat(v world.ThreatEvent) error { return l.w.Write(v) }
func (l *ThreatLogger) Close() error                          { return l.w.Close() }

// PurchaseLogger writes the rank purchase audit trail (compressed).
type PurchaseLogger struct{ w *JSONLZstdWriter }

func NewPurchaseLogger(worldDir string) *PurchaseLogger {
	return &PurchaseLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "audit"), "purchases")}
}

func (l *PurchaseLogger) WritePurchase(v world.PurchaseEvent) error { return l.w.Write(v) }
func (l *PurchaseLogger) Close() error                              { return l.w.Close() }

// ReportLogger writes one entry per performance report (compressed).
type ReportLogger struct{ w *JSONLZstdWriter }

func NewReportLogger(worldDir string) *ReportLogger {
	return &ReportLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "perf"), "perf")}
}

func (l *ReportLogger) WriteReport(v world.ReportEvent) error { return l.w.Write(v) }
func (l *ReportLogger) Close() error                          { return l.w.Close() }

// Set bundles the three loggers of a world directory as a single world.Sink.
// Write errors go to OnError when set and are otherwise dropped.
type Set struct {
	Threats   *ThreatLogger
	Purchases *PurchaseLogger
	Reports   *ReportLogger
	OnError   func(kind string, err error)
}

func NewSet(worldDir string) *Set {
	return &Set{
		Threats:   NewThreatLogger(worldDir),
		Purchases: NewPurchaseLogger(worldDir),
		Reports:   NewReportLogger(worldDir),
	}
}

func (s *Set) fail(kind string, err error) {
	if err != nil && s.OnError != nil {
		s.OnError(kind, err)
	}
}

func (s *Set) OnThreat(e world.ThreatEvent)     { s.fail("threat", s.Threats.WriteThreat(e)) }
func (s *Set) OnPurchase(e world.PurchaseEvent) { s.fail("purchase", s.Purchases.WritePurchase(e)) }
func (s *Set) OnReport(e world.ReportEvent)     { s.fail("report", s.Reports.WriteReport(e)) }

func (s *Set) Close() error {
	return errors.Join(s.Threats.Close(), s.Purchases.Close(), s.Reports.Close())
}
