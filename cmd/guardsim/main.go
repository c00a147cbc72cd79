package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"guardsim.ai/internal/persistence/indexdb"
	persistlog "guardsim.ai/internal/persistence/log"
	"guardsim.ai/internal/persistence/snapshot"
	"guardsim.ai/internal/sim/catalogs"
	"guardsim.ai/internal/sim/rank"
	"guardsim.ai/internal/sim/sandbox"
	"guardsim.ai/internal/sim/tuning"
	"guardsim.ai/internal/sim/world"
	"guardsim.ai/internal/transport/observer"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "http listen address")
		worldID   = flag.String("world", "world_1", "world id")
		configDir = flag.String("configs", "./configs", "config directory (ranks.json)")
		tunePath  = flag.String("tuning", "", "tuning.yaml path (default: <configs>/tuning.yaml)")
		dataDir   = flag.String("data", "./data", "runtime data directory")
		disableDB = flag.Bool("disable_db", false, "disable the event index")
		guards    = flag.Int("guards", 6, "number of guards in the demo village")
		villagers = flag.Int("villagers", 8, "number of villagers in the demo village")
		hostiles  = flag.Int("hostiles", 4, "number of hostiles kept alive around the village")
		seed      = flag.Int64("seed", 1337, "world seed")
		snapEvery = flag.Int("snapshot_every", 3000, "write a guard roster snapshot every N ticks (0 disables)")
		noRestore = flag.Bool("fresh", false, "ignore existing snapshots")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[guardsim] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	graph, err := rank.NewGraph(cats.Ranks)
	if err != nil {
		logger.Fatalf("rank graph: %v", err)
	}
	graph.SetLogger(logger)
	if err := graph.ValidateBalance(); err != nil {
		logger.Printf("rank catalog balance: %v", err)
	}

	tp := *tunePath
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if errors.Is(err, os.ErrNotExist) {
		logger.Printf("tuning: %s not found, using defaults", tp)
		tune, err = tuning.Defaults(), nil
	}
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		logger.Fatalf("mkdir world dir: %v", err)
	}

	idx, err := openRuntimeIndex(worldDir, *worldID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index catalogs: %v", err)
		}
	}

	logs := persistlog.NewSet(worldDir)
	logs.OnError = func(kind string, err error) {
		logger.Printf("log %s: %v", kind, err)
	}
	defer logs.Close()

	var restored *snapshot.SnapshotV1
	if !*noRestore {
		if p := snapshot.Latest(worldDir); p != "" {
			snap, err := snapshot.ReadSnapshot(p)
			if err != nil {
				logger.Fatalf("read snapshot %s: %v", p, err)
			}
			if snap.CatalogDigest != graph.Digest() {
				logger.Printf("snapshot %s was taken with catalog %s, now %s", p, snap.CatalogDigest, graph.Digest())
			}
			restored = &snap
			*seed = snap.Seed
		}
	}

	sb := sandbox.New()
	if restored != nil {
		sb.SetTick(restored.Header.Tick)
	}
	w, err := world.New(world.WorldConfig{ID: *worldID, Tuning: tune, Seed: *seed}, world.Host{
		World:   sb,
		Ledger:  sb,
		Effects: sb,
	}, graph, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	w.AddSink(logs)
	if idx != nil {
		w.AddSink(idx)
	}

	village := newDemo(sb, w, demoConfig{Guards: *guards, Villagers: *villagers, Hostiles: *hostiles}, *seed, restored, logger)
	writeSnap := func() {
		snap := village.capture()
		p := snapshot.Path(worldDir, snap.Header.Tick)
		if err := snapshot.WriteSnapshot(p, snap); err != nil {
			logger.Printf("snapshot: %v", err)
			return
		}
		logger.Printf("snapshot: wrote %s (%d guards)", p, len(snap.Guards))
	}
	step := func() {
		village.step()
		if *snapEvery > 0 && sb.CurrentTick()%uint64(*snapEvery) == 0 {
			writeSnap()
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})

	var hub *observer.Hub
	if envBool("GUARDSIM_ENABLE_ADMIN_HTTP", true) {
		obs := observer.NewServer(w, logger)
		obs.Register(mux)
		hub = obs.Hub()
		w.AddSink(hub)
	} else {
		logger.Printf("observer endpoints disabled (GUARDSIM_ENABLE_ADMIN_HTTP=false)")
	}

	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, idx, hub)
	})

	if envBool("GUARDSIM_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(ctx, step)
	})
	g.Go(func() error {
		logger.Printf("listening on %s (world=%s tick_rate=%dHz guards=%d)", *addr, *worldID, tune.TickRateHz, *guards)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx2)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("exit: %v", err)
	}
	if *snapEvery > 0 {
		writeSnap()
	}
}

// writeMetrics renders the Prometheus text exposition for the world, its index and observers.
func writeMetrics(out io.Writer, w *world.World, idx runtimeIndex, hub *observer.Hub) {
	info := w.Info()
	id := info.WorldID

	fmt.Fprintf(out, "# HELP guardsim_world_tick Current world tick.\n")
	fmt.Fprintf(out, "# TYPE guardsim_world_tick gauge\n")
	fmt.Fprintf(out, "guardsim_world_tick{world=%q} %d\n", id, info.Tick)

	fmt.Fprintf(out, "# HELP guardsim_threats Remembered threat records.\n")
	fmt.Fprintf(out, "# TYPE guardsim_threats gauge\n")
	fmt.Fprintf(out, "guardsim_threats{world=%q} %d\n", id, info.Threats)

	fmt.Fprintf(out, "# HELP guardsim_scheduled_agents Agents tracked by the AI scheduler.\n")
	fmt.Fprintf(out, "# TYPE guardsim_scheduled_agents gauge\n")
	fmt.Fprintf(out, "guardsim_scheduled_agents{world=%q} %d\n", id, info.Scheduled)

	fmt.Fprintf(out, "# HELP guardsim_ai_reduction_pct Share of AI updates skipped since the last report.\n")
	fmt.Fprintf(out, "# TYPE guardsim_ai_reduction_pct gauge\n")
	fmt.Fprintf(out, "guardsim_ai_reduction_pct{world=%q} %.3f\n", id, w.Monitor().AIReductionPercent())
	fmt.Fprintf(out, "# HELP guardsim_scan_reduction_pct Share of threat scans skipped since the last report.\n")
	fmt.Fprintf(out, "# TYPE guardsim_scan_reduction_pct gauge\n")
	fmt.Fprintf(out, "guardsim_scan_reduction_pct{world=%q} %.3f\n", id, w.Monitor().ScanReductionPercent())

	if r, ok := w.Monitor().Last(); ok {
		fmt.Fprintf(out, "# HELP guardsim_report_to_tick Last tick covered by the latest performance report.\n")
		fmt.Fprintf(out, "# TYPE guardsim_report_to_tick gauge\n")
		fmt.Fprintf(out, "guardsim_report_to_tick{world=%q} %d\n", id, r.ToTick)
		fmt.Fprintf(out, "# HELP guardsim_report_path_hit_rate Path cache hit rate in the latest report.\n")
		fmt.Fprintf(out, "# TYPE guardsim_report_path_hit_rate gauge\n")
		fmt.Fprintf(out, "guardsim_report_path_hit_rate{world=%q} %.6f\n", id, r.PathCache.HitRate())
		if len(r.Metrics) > 0 {
			fmt.Fprintf(out, "# HELP guardsim_report_metric_avg Average of a timed metric in the latest report.\n")
			fmt.Fprintf(out, "# TYPE guardsim_report_metric_avg gauge\n")
			for _, name := range r.MetricNames() {
				fmt.Fprintf(out, "guardsim_report_metric_avg{world=%q,metric=%q} %.3f\n", id, name, r.Metrics[name].Avg)
			}
		}
	}

	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		st := x.Stats()
		fmt.Fprintf(out, "# HELP guardsim_index_queue_depth Index write queue depth.\n")
		fmt.Fprintf(out, "# TYPE guardsim_index_queue_depth gauge\n")
		fmt.Fprintf(out, "guardsim_index_queue_depth{world=%q} %d\n", id, st.QueueDepth)
		fmt.Fprintf(out, "# HELP guardsim_index_dropped_total Events dropped by a full index queue.\n")
		fmt.Fprintf(out, "# TYPE guardsim_index_dropped_total counter\n")
		fmt.Fprintf(out, "guardsim_index_dropped_total{world=%q,kind=%q} %d\n", id, "threat", st.DropThreat)
		fmt.Fprintf(out, "guardsim_index_dropped_total{world=%q,kind=%q} %d\n", id, "purchase", st.DropPurchase)
		fmt.Fprintf(out, "guardsim_index_dropped_total{world=%q,kind=%q} %d\n", id, "report", st.DropReport)
	case *indexdb.RemoteIndex:
		st := x.Stats()
		fmt.Fprintf(out, "# HELP guardsim_index_queue_depth Index write queue depth.\n")
		fmt.Fprintf(out, "# TYPE guardsim_index_queue_depth gauge\n")
		fmt.Fprintf(out, "guardsim_index_queue_depth{world=%q} %d\n", id, st.QueueDepth)
		fmt.Fprintf(out, "# HELP guardsim_index_dropped_total Events dropped by a full index queue.\n")
		fmt.Fprintf(out, "# TYPE guardsim_index_dropped_total counter\n")
		fmt.Fprintf(out, "guardsim_index_dropped_total{world=%q,kind=%q} %d\n", id, "all", st.QueueDroppedTotal)
		fmt.Fprintf(out, "# HELP guardsim_index_flush_fail_total Failed remote index flushes.\n")
		fmt.Fprintf(out, "# TYPE guardsim_index_flush_fail_total counter\n")
		fmt.Fprintf(out, "guardsim_index_flush_fail_total{world=%q} %d\n", id, st.FlushFailTotal)
	}

	if hub != nil {
		fmt.Fprintf(out, "# HELP guardsim_observers Connected observer sessions.\n")
		fmt.Fprintf(out, "# TYPE guardsim_observers gauge\n")
		fmt.Fprintf(out, "guardsim_observers{world=%q} %d\n", id, hub.Len())
	}
}
