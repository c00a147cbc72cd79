package pathcache

import (
	"testing"

	"github.com/google/uuid"

	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/tuning"
)

func newCache() *Cache { return New(tuning.Defaults().PathCache) }

func TestCachedPath_RoundTrip(t *testing.T) {
	c := newCache()
	a := uuid.New()
	from, goal, res := model.Vec3{}, model.Vec3{X: 30}, model.Vec3{X: 4}
	c.CachePath(a, from, goal, res, 100)

	got, ok := c.CachedPath(a, from, goal, 140)
	if !ok || got != res {
		t.Fatalf("got %v ok=%v want %v", got, ok, res)
	}
	if _, ok := c.CachedPath(a, from, goal, 141); ok {
		t.Fatalf("entry older than 40 ticks should miss")
	}
	if _, ok := c.CachedPath(a, from, goal, 100); ok {
		t.Fatalf("expired entry should have been evicted")
	}
}

func TestCachedPath_MovementInvalidates(t *testing.T) {
	cases := []struct {
		name string
		from model.Vec3
		goal model.Vec3
		hit  bool
	}{
		{"agent moved exactly 8", model.Vec3{X: 8}, model.Vec3{X: 30}, true},
		{"agent moved past 8", model.Vec3{X: 8.1}, model.Vec3{X: 30}, false},
		{"goal moved past 8", model.Vec3{}, model.Vec3{X: 30, Z: 9}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCache()
			a := uuid.New()
			c.CachePath(a, model.Vec3{}, model.Vec3{X: 30}, model.Vec3{X: 4}, 0)
			if _, ok := c.CachedPath(a, tc.from, tc.goal, 1); ok != tc.hit {
				t.Fatalf("hit=%v want %v", ok, tc.hit)
			}
			if !tc.hit {
				if _, ok := c.CachedPath(a, model.Vec3{}, model.Vec3{X: 30}, 1); ok {
					t.Fatalf("invalidated entry should be evicted")
				}
			}
		})
	}
}

func TestCachedPatrol_ArrivalEvicts(t *testing.T) {
	c := newCache()
	a := uuid.New()
	target := model.Vec3{X: 20}
	c.CachePatrolPosition(a, model.Vec3{}, target, 0)

	if got, ok := c.CachedPatrolPosition(a, model.Vec3{X: 17.9}, 50); !ok || got != target {
		t.Fatalf("agent 2.1 away should still hit, got %v ok=%v", got, ok)
	}
	if _, ok := c.CachedPatrolPosition(a, model.Vec3{X: 18.5}, 51); ok {
		t.Fatalf("agent within 2 units should miss")
	}
	if _, ok := c.CachedPatrolPosition(a, model.Vec3{}, 52); ok {
		t.Fatalf("arrival should evict the entry")
	}
}

func TestCachedPatrol_LongerWindowIgnoresDrift(t *testing.T) {
	c := newCache()
	a := uuid.New()
	target := model.Vec3{X: 50}
	c.CachePatrolPosition(a, model.Vec3{}, target, 0)

	if _, ok := c.CachedPatrolPosition(a, model.Vec3{X: 30}, 100); !ok {
		t.Fatalf("patrol entry should survive 100 ticks and agent movement")
	}
	if _, ok := c.CachedPatrolPosition(a, model.Vec3{X: 30}, 101); ok {
		t.Fatalf("patrol entry older than 100 ticks should miss")
	}
}

func TestInvalidateAndStats(t *testing.T) {
	c := newCache()
	a, b := uuid.New(), uuid.New()
	c.CachePath(a, model.Vec3{}, model.Vec3{X: 1}, model.Vec3{X: 1}, 0)
	c.CachePatrolPosition(a, model.Vec3{}, model.Vec3{X: 9}, 0)
	c.CachePath(b, model.Vec3{}, model.Vec3{X: 1}, model.Vec3{X: 1}, 0)

	c.CachedPath(a, model.Vec3{}, model.Vec3{X: 1}, 1)
	c.Invalidate(a)
	c.CachedPath(a, model.Vec3{}, model.Vec3{X: 1}, 1)
	c.CachedPatrolPosition(a, model.Vec3{}, 1)

	s := c.ResetStats()
	if s.PathHits != 1 || s.PathMisses != 1 || s.PatrolMisses != 1 || s.PatrolHits != 0 {
		t.Fatalf("stats=%+v", s)
	}
	if s.Paths != 1 || s.Patrols != 0 {
		t.Fatalf("entries paths=%d patrols=%d want 1/0", s.Paths, s.Patrols)
	}
	if got := s.HitRate(); got != 1.0/3.0 {
		t.Fatalf("hit rate=%v", got)
	}
	if after := c.Stats(); after.PathHits != 0 || after.PathMisses != 0 {
		t.Fatalf("counters not reset: %+v", after)
	}

	c.Clear()
	if _, ok := c.CachedPath(b, model.Vec3{}, model.Vec3{X: 1}, 1); ok {
		t.Fatalf("clear should drop every entry")
	}
}
