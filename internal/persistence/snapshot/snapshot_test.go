package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/rank"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	in := SnapshotV1{
		Header:        Header{WorldID: "w1", Tick: 3000},
		Seed:          42,
		TickRate:      20,
		CatalogDigest: "abc",
		PlayerID:      uuid.New(),
		Balance:       185,
		Guards: []GuardV1{
			{ID: uuid.New(), Pos: model.Vec3{X: 1, Z: -2}, Role: "patrol", Rank: rank.Snapshot{Rank: "marksman_2", ChosenPath: "ranged", Spent: 35}},
			{ID: uuid.New(), Role: "guard", Rank: rank.Snapshot{Rank: "recruit"}},
		},
	}
	p := Path(dir, in.Header.Tick)
	if err := WriteSnapshot(p, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(p + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	out, err := ReadSnapshot(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	in.Header.Version = Version
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSnapshot_RejectsUnknownVersion(t *testing.T) {
	p := Path(t.TempDir(), 1)
	if err := WriteSnapshot(p, SnapshotV1{Header: Header{Version: 9, Tick: 1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(p); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if got := Latest(dir); got != "" {
		t.Fatalf("empty dir: got %q", got)
	}
	for _, tick := range []uint64{900, 12000, 3000} {
		if err := WriteSnapshot(Path(dir, tick), SnapshotV1{Header: Header{Tick: tick}}); err != nil {
			t.Fatalf("write %d: %v", tick, err)
		}
	}
	junk := filepath.Join(dir, "snapshots", "latest"+suffix)
	if err := os.WriteFile(junk, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, want := Latest(dir), Path(dir, 12000); got != want {
		t.Fatalf("latest=%q want %q", got, want)
	}
}
