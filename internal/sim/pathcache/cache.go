// Package pathcache memoizes movement targets computed by an external pathfinder.
package pathcache

import (
	"sync"

	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/tuning"
)

type pathEntry struct {
	from   model.Vec3
	goal   model.Vec3
	result model.Vec3
	tick   uint64
}

type patrolEntry struct {
	from   model.Vec3
	target model.Vec3
	tick   uint64
}

// Stats counts lookups since the last ResetStats.
type Stats struct {
	PathHits     int64 `json:"path_hits"`
	PathMisses   int64 `json:"path_misses"`
	PatrolHits   int64 `json:"patrol_hits"`
	PatrolMisses int64 `json:"patrol_misses"`
	Paths        int   `json:"paths"`
	Patrols      int   `json:"patrols"`
}

func (s Stats) HitRate() float64 {
	total := s.PathHits + s.PathMisses + s.PatrolHits + s.PatrolMisses
	if total == 0 {
		return 0
	}
	return float64(s.PathHits+s.PatrolHits) / float64(total)
}

type Cache struct {
	cfg tuning.PathCache

	mu      sync.Mutex
	paths   map[model.ID]pathEntry
	patrols map[model.ID]patrolEntry
	stats   Stats
}

func New(cfg tuning.PathCache) *Cache {
	return &Cache{
		cfg:     cfg,
		paths:   map[model.ID]pathEntry{},
		patrols: map[model.ID]patrolEntry{},
	}
}

func age(now, then uint64) uint64 {
	if now < then {
		return 0
	}
	return now - then
}

// CachedPath returns the remembered movement target while it is young enough and
// neither the agent nor the goal has drifted past the move threshold. A stale entry
// is evicted.
func (c *Cache) CachedPath(agent model.ID, from, goal model.Vec3, now uint64) (model.Vec3, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.paths[agent]
	if !ok {
		c.stats.PathMisses++
		return model.Vec3{}, false
	}
	limSq := c.cfg.MoveThreshold * c.cfg.MoveThreshold
	if age(now, e.tick) > uint64(c.cfg.PathTTLTicks) ||
		from.DistSq(e.from) > limSq ||
		goal.DistSq(e.goal) > limSq {
		delete(c.paths, agent)
		c.stats.PathMisses++
		return model.Vec3{}, false
	}
	c.stats.PathHits++
	return e.result, true
}

func (c *Cache) CachePath(agent model.ID, from, goal, result model.Vec3, now uint64) {
	c.mu.Lock()
	c.paths[agent] = pathEntry{from: from, goal: goal, result: result, tick: now}
	c.mu.Unlock()
}

// CachedPatrolPosition returns the patrol destination until it expires or the
// agent, standing at pos, has arrived within the arrive radius.
func (c *Cache) CachedPatrolPosition(agent model.ID, pos model.Vec3, now uint64) (model.Vec3, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.patrols[agent]
	if !ok {
		c.stats.PatrolMisses++
		return model.Vec3{}, false
	}
	if age(now, e.tick) > uint64(c.cfg.PatrolTTLTicks) ||
		pos.DistSq(e.target) < c.cfg.ArriveRadius*c.cfg.ArriveRadius {
		delete(c.patrols, agent)
		c.stats.PatrolMisses++
		return model.Vec3{}, false
	}
	c.stats.PatrolHits++
	return e.target, true
}

func (c *Cache) CachePatrolPosition(agent model.ID, from, target model.Vec3, now uint64) {
	c.mu.Lock()
	c.patrols[agent] = patrolEntry{from: from, target: target, tick: now}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(agent model.ID) {
	c.mu.Lock()
	delete(c.paths, agent)
	delete(c.patrols, agent)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.paths = map[model.ID]pathEntry{}
	c.patrols = map[model.ID]patrolEntry{}
	c.mu.Unlock()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Paths, s.Patrols = len(c.paths), len(c.patrols)
	return s
}

// ResetStats zeroes the hit and miss counters and returns their previous values.
func (c *Cache) ResetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Paths, s.Patrols = len(c.paths), len(c.patrols)
	c.stats = Stats{}
	return s
}
