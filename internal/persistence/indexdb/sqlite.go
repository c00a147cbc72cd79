package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"guardsim.ai/internal/sim/catalogs"
	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/tuning"
	"guardsim.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the guard event stream. The JSONL
// logs stay the source of truth; the index may drop events under load.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropThreat   atomic.Uint64
	dropPurchase atomic.Uint64
	dropReport   atomic.Uint64
}

type reqKind int

const (
	reqThreat reqKind = iota + 1
	reqPurchase
	reqReport
)

type req struct {
	kind reqKind

	threat   world.ThreatEvent
	purchase world.PurchaseEvent
	report   world.ReportEvent
}

// Stats reports queue pressure.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropThreat    uint64 `json:"drop_threat_total"`
	DropPurchase  uint64 `json:"drop_purchase_total"`
	DropReport    uint64 `json:"drop_report_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS perf_reports (
			world_id TEXT NOT NULL,
			to_tick INTEGER NOT NULL,
			from_tick INTEGER NOT NULL,
			ai_updates INTEGER NOT NULL,
			ai_skipped INTEGER NOT NULL,
			ai_reduction_pct REAL NOT NULL,
			threat_scans INTEGER NOT NULL,
			scans_skipped INTEGER NOT NULL,
			scan_reduction_pct REAL NOT NULL,
			path_hits INTEGER NOT NULL,
			path_misses INTEGER NOT NULL,
			patrol_hits INTEGER NOT NULL,
			patrol_misses INTEGER NOT NULL,
			PRIMARY KEY (world_id, to_tick)
		);`,
		`CREATE TABLE IF NOT EXISTS perf_metrics (
			world_id TEXT NOT NULL,
			to_tick INTEGER NOT NULL,
			name TEXT NOT NULL,
			count INTEGER NOT NULL,
			sum REAL NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			avg REAL NOT NULL,
			PRIMARY KEY (world_id, to_tick, name)
		);`,
		`CREATE TABLE IF NOT EXISTS purchases (
			world_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			rank TEXT NOT NULL,
			ok INTEGER NOT NULL,
			reason TEXT,
			tier INTEGER NOT NULL,
			path TEXT,
			cost INTEGER NOT NULL,
			spent INTEGER NOT NULL,
			PRIMARY KEY (world_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_agent_tick ON purchases(agent_id, tick);`,
		`CREATE TABLE IF NOT EXISTS threat_events (
			world_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			source TEXT NOT NULL,
			agent_id TEXT,
			threat_id TEXT NOT NULL,
			victim_id TEXT,
			priority TEXT NOT NULL,
			kind TEXT NOT NULL,
			distance_sq REAL NOT NULL,
			alerted INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (world_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_threat_events_threat_tick ON threat_events(threat_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_threat_events_priority_tick ON threat_events(priority, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropThreat:    s.dropThreat.Load(),
		DropPurchase:  s.dropPurchase.Load(),
		DropReport:    s.dropReport.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		drops.Add(1)
	}
}

func (s *SQLiteIndex) OnThreat(e world.ThreatEvent) {
	s.enqueue(req{kind: reqThreat, threat: e}, &s.dropThreat)
}

func (s *SQLiteIndex) OnPurchase(e world.PurchaseEvent) {
	s.enqueue(req{kind: reqPurchase, purchase: e}, &s.dropPurchase)
}

func (s *SQLiteIndex) OnReport(e world.ReportEvent) {
	s.enqueue(req{kind: reqReport, report: e}, &s.dropReport)
}

// UpsertCatalogs stores the rank catalog and the tuning actually applied. The raw
// ranks.json from configDir is preferred; otherwise the decoded catalog is stored.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows, err := catalogRows(configDir, cats, tune)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type catalogRow struct {
	name   string
	digest string
	data   []byte
}

func catalogRows(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) ([]catalogRow, error) {
	var rows []catalogRow

	var ranks []byte
	if configDir != "" {
		ranks, _ = os.ReadFile(filepath.Join(configDir, "ranks.json"))
	}
	if len(ranks) == 0 {
		b, err := json.Marshal(cats.Ranks)
		if err != nil {
			return nil, err
		}
		ranks = b
	}
	rows = append(rows, catalogRow{name: "ranks", digest: cats.Ranks.Digest, data: ranks})

	b, err := json.Marshal(tune)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	rows = append(rows, catalogRow{name: "tuning", digest: hex.EncodeToString(sum[:]), data: b})
	return rows, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertThreat, _ := s.db.Prepare(`INSERT OR REPLACE INTO threat_events(world_id,tick,seq,source,agent_id,threat_id,victim_id,priority,kind,distance_sq,alerted,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertPurchase, _ := s.db.Prepare(`INSERT OR REPLACE INTO purchases(world_id,tick,seq,agent_id,actor_id,rank,ok,reason,tier,path,cost,spent) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertReport, _ := s.db.Prepare(`INSERT OR REPLACE INTO perf_reports(world_id,to_tick,from_tick,ai_updates,ai_skipped,ai_reduction_pct,threat_scans,scans_skipped,scan_reduction_pct,path_hits,path_misses,patrol_hits,patrol_misses) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertMetric, _ := s.db.Prepare(`INSERT OR REPLACE INTO perf_metrics(world_id,to_tick,name,count,sum,min,max,avg) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertThreat, insertPurchase, insertReport, insertMetric} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = 2 * time.Second

		threatSeq   = map[string]*seqCounter{}
		purchaseSeq = map[string]*seqCounter{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqThreat:
			e := r.threat
			raw, _ := json.Marshal(e)
			var agent, victim any
			if e.AgentID != model.Nil {
				agent = e.AgentID.String()
			}
			if e.Record.HasVictim() {
				victim = e.Record.VictimID.String()
			}
			seq := next(threatSeq, e.WorldID, e.Tick)
			exec(insertThreat,
				e.WorldID, int64(e.Tick), seq, e.Source,
				agent, e.Record.ThreatID.String(), victim,
				e.Record.Priority.String(), e.Record.Kind.String(),
				e.Record.DistanceSq, len(e.Alerted), string(raw),
			)

		case reqPurchase:
			e := r.purchase
			ok := 0
			if e.OK {
				ok = 1
			}
			seq := next(purchaseSeq, e.WorldID, e.Tick)
			exec(insertPurchase,
				e.WorldID, int64(e.Tick), seq,
				e.AgentID.String(), e.ActorID.String(), e.Rank, ok,
				nullable(e.Reason), e.Tier, nullable(e.Path), e.Cost, e.Spent,
			)

		case reqReport:
			e := r.report
			rp := e.Report
			if !exec(insertReport,
				e.WorldID, int64(rp.ToTick), int64(rp.FromTick),
				rp.AIUpdates, rp.AISkipped, rp.AIReductionPct,
				rp.ThreatScans, rp.ScansSkipped, rp.ScanReductionPct,
				rp.PathCache.PathHits, rp.PathCache.PathMisses,
				rp.PathCache.PatrolHits, rp.PathCache.PatrolMisses,
			) {
				continue
			}
			for _, name := range rp.MetricNames() {
				m := rp.Metrics[name]
				if !exec(insertMetric, e.WorldID, int64(rp.ToTick), name, m.Count, m.Sum, m.Min, m.Max, m.Avg) {
					break
				}
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

type seqCounter struct {
	tick uint64
	seq  int
}

// next numbers rows sharing a (world, tick) key in arrival order.
func next(m map[string]*seqCounter, worldID string, tick uint64) int {
	c := m[worldID]
	if c == nil {
		c = &seqCounter{tick: tick}
		m[worldID] = c
	}
	if c.tick != tick {
		c.tick, c.seq = tick, 0
	}
	seq := c.seq
	c.seq++
	return seq
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
