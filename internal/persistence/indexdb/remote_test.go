package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"guardsim.ai/internal/sim/catalogs"
	"guardsim.ai/internal/sim/tuning"
	"guardsim.ai/internal/sim/world"
)

func TestRemoteIndex_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	kinds := map[string]int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if r.Header.Get("x-guardsim-index-token") != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []struct {
				Kind    string `json:"kind"`
				WorldID string `json:"world_id"`
			} `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		for _, ev := range body.Events {
			kinds[ev.Kind]++
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx, err := OpenRemote(RemoteConfig{
		Endpoint:      srv.URL,
		Token:         "secret",
		WorldID:       "world_1",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	defer func() { _ = idx.Close() }()

	idx.OnReport(world.ReportEvent{WorldID: "world_1", Tick: 123})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := kinds["report"] >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	delivered := kinds["report"]
	mu.Unlock()
	if delivered < 1 {
		t.Fatalf("expected retained batch to be eventually delivered")
	}
	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", st.QueueDroppedTotal)
	}
}

func TestRemoteIndex_FlushesOnClose(t *testing.T) {
	var mu sync.Mutex
	got := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []struct {
				Kind string `json:"kind"`
			} `json:"events"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		for _, ev := range body.Events {
			got[ev.Kind]++
		}
		mu.Unlock()
	}))
	defer srv.Close()

	idx, err := OpenRemote(RemoteConfig{Endpoint: srv.URL, WorldID: "w", BatchSize: 100, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cats, _ := catalogs.Default()
	if err := idx.UpsertCatalogs("", cats, tuning.Defaults()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	idx.OnThreat(world.ThreatEvent{Tick: 1})
	idx.OnPurchase(world.PurchaseEvent{Tick: 1})
	_ = idx.Close()

	mu.Lock()
	defer mu.Unlock()
	if got["catalog"] != 2 || got["threat"] != 1 || got["purchase"] != 1 {
		t.Fatalf("kinds=%v", got)
	}
}

func TestOpenRemote_Validates(t *testing.T) {
	if _, err := OpenRemote(RemoteConfig{WorldID: "w"}); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := OpenRemote(RemoteConfig{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected world id error")
	}
}
