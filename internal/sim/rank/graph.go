// Package rank holds the guard progression graph, per-agent progression state,
// derived combat stats and the special abilities attached to high ranks.
package rank

import (
	"fmt"
	"log"

	"guardsim.ai/internal/sim/catalogs"
)

type ID string

type Path int

const (
	PathBase Path = iota
	PathMelee
	PathRanged
)

func (p Path) String() string {
	switch p {
	case PathMelee:
		return "melee"
	case PathRanged:
		return "ranged"
	default:
		return "base"
	}
}

func ParsePath(s string) (Path, bool) {
	switch s {
	case "base", "":
		return PathBase, true
	case "melee":
		return PathMelee, true
	case "ranged":
		return PathRanged, true
	default:
		return PathBase, false
	}
}

// MaxTier is the deepest tier of every specialization path.
const MaxTier = 4

type Node struct {
	ID        ID
	Label     string
	Tier      int
	Path      Path
	Previous  ID // empty for the base rank
	Next      ID // empty at the end of a path
	Cost      int
	Health    float64
	Damage    float64
	DrawSpeed float64
	Ability   *Ability
}

func (n Node) IsBase() bool { return n.Previous == "" }

// Graph is the immutable progression DAG: one free base rank, one head per
// specialization path, and a strictly linear chain from each head to MaxTier.
type Graph struct {
	nodes  map[ID]Node
	order  []ID
	base   ID
	heads  map[Path]ID
	tails  map[Path]ID
	digest string

	logger *log.Logger
}

// NewGraph validates the catalog's shape and builds the graph.
func NewGraph(c catalogs.RankCatalog) (*Graph, error) {
	g := &Graph{
		nodes:  map[ID]Node{},
		heads:  map[Path]ID{},
		tails:  map[Path]ID{},
		digest: c.Digest,
	}
	for _, d := range c.Ranks {
		path, ok := ParsePath(d.Path)
		if !ok {
			return nil, fmt.Errorf("rank %q: unknown path %q", d.ID, d.Path)
		}
		n := Node{
			ID:        ID(d.ID),
			Label:     d.Label,
			Tier:      d.Tier,
			Path:      path,
			Previous:  ID(d.Previous),
			Cost:      d.Cost,
			Health:    d.Health,
			Damage:    d.Damage,
			DrawSpeed: d.DrawSpeed,
		}
		if d.Ability != "" {
			a, ok := c.AbilityBy[d.Ability]
			if !ok {
				return nil, fmt.Errorf("rank %q: unknown ability %q", d.ID, d.Ability)
			}
			ab, err := abilityFromDef(a)
			if err != nil {
				return nil, fmt.Errorf("rank %q: %w", d.ID, err)
			}
			n.Ability = &ab
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("rank %q: duplicate id", n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	for _, id := range g.order {
		n := g.nodes[id]
		if n.IsBase() {
			if g.base != "" {
				return nil, fmt.Errorf("rank %q: second base rank (already %q)", id, g.base)
			}
			if n.Tier != 0 || n.Path != PathBase || n.Cost != 0 {
				return nil, fmt.Errorf("rank %q: base rank must be tier 0, path base, free", id)
			}
			g.base = id
			continue
		}
		prev, ok := g.nodes[n.Previous]
		if !ok {
			return nil, fmt.Errorf("rank %q: unknown previous %q", id, n.Previous)
		}
		if n.Path == PathBase {
			return nil, fmt.Errorf("rank %q: only the base rank may use path base", id)
		}
		if n.Tier != prev.Tier+1 {
			return nil, fmt.Errorf("rank %q: tier %d does not follow %q (tier %d)", id, n.Tier, prev.ID, prev.Tier)
		}
		if n.Cost <= 0 {
			return nil, fmt.Errorf("rank %q: cost must be positive", id)
		}
		if prev.IsBase() {
			if other, dup := g.heads[n.Path]; dup {
				return nil, fmt.Errorf("rank %q: path %s already starts at %q", id, n.Path, other)
			}
			g.heads[n.Path] = id
		} else {
			if prev.Path != n.Path {
				return nil, fmt.Errorf("rank %q: crosses from path %s to %s", id, prev.Path, n.Path)
			}
			if prev.Next != "" {
				return nil, fmt.Errorf("rank %q: %q already continues to %q", id, prev.ID, prev.Next)
			}
			prev.Next = id
			g.nodes[prev.ID] = prev
		}
	}
	if g.base == "" {
		return nil, fmt.Errorf("rank catalog has no base rank")
	}
	for _, p := range []Path{PathMelee, PathRanged} {
		id, ok := g.heads[p]
		if !ok {
			return nil, fmt.Errorf("rank catalog has no %s path", p)
		}
		for g.nodes[id].Next != "" {
			id = g.nodes[id].Next
		}
		if t := g.nodes[id].Tier; t != MaxTier {
			return nil, fmt.Errorf("rank path %s ends at tier %d, want %d", p, t, MaxTier)
		}
		g.tails[p] = id
	}
	return g, nil
}

// SetLogger enables warnings for lookups of unknown rank ids. Call it before the
// graph is shared.
func (g *Graph) SetLogger(logger *log.Logger) { g.logger = logger }

func (g *Graph) warnUnknown(id ID) {
	if g.logger != nil {
		g.logger.Printf("rank: unknown rank %q, using %s", id, g.base)
	}
}

// Node looks up a rank by id.
func (g *Graph) Node(id ID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Base() Node { return g.nodes[g.base] }

// Nodes returns every rank in catalog order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// At returns the rank at tier on path. Tier 0 is the base rank on every path.
func (g *Graph) At(tier int, path Path) (Node, bool) {
	if tier == 0 {
		return g.Base(), true
	}
	id, ok := g.heads[path]
	if !ok {
		return Node{}, false
	}
	for n := g.nodes[id]; ; n = g.nodes[n.Next] {
		if n.Tier == tier {
			return n, true
		}
		if n.Next == "" {
			return Node{}, false
		}
	}
}

// Upgrades lists the ranks directly purchasable from id, in catalog order.
func (g *Graph) Upgrades(id ID) []ID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	if n.IsBase() {
		out := make([]ID, 0, len(g.heads))
		for _, o := range g.order {
			if g.nodes[o].Previous == id {
				out = append(out, o)
			}
		}
		return out
	}
	if n.Next == "" {
		return nil
	}
	return []ID{n.Next}
}

// CostTo is the total currency spent to reach id from the base rank.
func (g *Graph) CostTo(id ID) (int, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return 0, false
	}
	total := 0
	for {
		total += n.Cost
		if n.IsBase() {
			return total, true
		}
		n = g.nodes[n.Previous]
	}
}

func (g *Graph) Digest() string { return g.digest }
