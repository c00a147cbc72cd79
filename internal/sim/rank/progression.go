package rank

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"guardsim.ai/internal/sim/model"
)

var (
	ErrUnknownRank       = errors.New("unknown rank")
	ErrAlreadyOwned      = errors.New("already at this rank")
	ErrNotPurchasable    = errors.New("base rank cannot be purchased")
	ErrAlreadyMaxRank    = errors.New("already at max rank")
	ErrPathLocked        = errors.New("path locked")
	ErrSkippedTier       = errors.New("skipped tier")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Progression is one guard's position in the graph. All methods are safe for
// concurrent use; purchases on the same guard are serialized.
type Progression struct {
	graph *Graph

	mu      sync.Mutex
	current ID
	chosen  Path
	spent   int
}

func (g *Graph) NewProgression() *Progression {
	return &Progression{graph: g, current: g.base}
}

func (p *Progression) Current() Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.nodes[p.current]
}

func (p *Progression) CurrentTier() int { return p.Current().Tier }
func (p *Progression) CurrentPath() Path { return p.Current().Path }

// ChosenPath is the specialization committed to by the first purchase.
func (p *Progression) ChosenPath() Path {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chosen
}

func (p *Progression) Spent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spent
}

// CanPurchase reports whether target is the legal next step, ignoring currency.
func (p *Progression) CanPurchase(target ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.checkLocked(target)
	return err == nil
}

// Check explains why target cannot be bought with available currency, or returns nil.
func (p *Progression) Check(target ID, available int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.checkLocked(target)
	if err != nil {
		return err
	}
	return checkFunds(n, available)
}

func checkFunds(n Node, available int) error {
	if available < n.Cost {
		return fmt.Errorf("%w: %s costs %d, have %d", ErrInsufficientFunds, n.ID, n.Cost, available)
	}
	return nil
}

func (p *Progression) checkLocked(target ID) (Node, error) {
	n, ok := p.graph.nodes[target]
	if !ok {
		return Node{}, fmt.Errorf("%w: %q", ErrUnknownRank, target)
	}
	cur := p.graph.nodes[p.current]
	switch {
	case target == p.current:
		return Node{}, fmt.Errorf("%w: %s", ErrAlreadyOwned, target)
	case n.IsBase():
		return Node{}, ErrNotPurchasable
	case cur.Tier >= MaxTier:
		return Node{}, fmt.Errorf("%w: %s", ErrAlreadyMaxRank, cur.ID)
	case cur.Path != PathBase && n.Path != cur.Path:
		return Node{}, fmt.Errorf("%w: committed to %s, %s is %s", ErrPathLocked, cur.Path, target, n.Path)
	case n.Previous != p.current:
		return Node{}, fmt.Errorf("%w: %s requires %s, current is %s", ErrSkippedTier, target, n.Previous, p.current)
	}
	return n, nil
}

// Purchase moves to target when it is the legal next step and available covers its
// cost. On failure nothing changes and the error wraps one of the Err* reasons.
func (p *Progression) Purchase(target ID, available int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.checkLocked(target)
	if err != nil {
		return err
	}
	if err := checkFunds(n, available); err != nil {
		return err
	}
	p.applyLocked(n)
	return nil
}

// Buy is Purchase paid from actor's balance in ledger. The deduction happens under
// the guard's lock, so two concurrent buys cannot both succeed.
func (p *Progression) Buy(target ID, ledger model.Ledger, actor model.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.checkLocked(target)
	if err != nil {
		return err
	}
	if err := checkFunds(n, ledger.Balance(actor)); err != nil {
		return err
	}
	if !ledger.Deduct(actor, n.Cost) {
		return fmt.Errorf("%w: deduction of %d refused", ErrInsufficientFunds, n.Cost)
	}
	p.applyLocked(n)
	return nil
}

func (p *Progression) applyLocked(n Node) {
	p.current = n.ID
	p.spent += n.Cost
	if p.chosen == PathBase {
		p.chosen = n.Path
	}
}

// AvailableUpgrades lists the ranks that could be bought next.
func (p *Progression) AvailableUpgrades() []ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.Upgrades(p.current)
}

// Snapshot is the persisted form of a Progression.
type Snapshot struct {
	Rank       string `json:"rank"`
	ChosenPath string `json:"chosen_path,omitempty"`
	Spent      int    `json:"spent"`
}

func (p *Progression) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{Rank: string(p.current), Spent: p.spent}
	if p.chosen != PathBase {
		s.ChosenPath = p.chosen.String()
	}
	return s
}

// Restore rebuilds a Progression from a snapshot, repairing inconsistencies:
// unknown ranks fall back to base, the chosen path follows the rank, and the
// spent total is recomputed from the graph.
func (g *Graph) Restore(s Snapshot, logger *log.Logger) *Progression {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := g.NewProgression()
	n, ok := g.nodes[ID(s.Rank)]
	if !ok {
		if s.Rank != "" {
			logger.Printf("rank: unknown rank %q in snapshot, using %s", s.Rank, g.base)
		}
		n = g.Base()
	}
	p.current = n.ID

	chosen, _ := ParsePath(s.ChosenPath)
	switch {
	case n.Path != PathBase && chosen != n.Path:
		if chosen != PathBase {
			logger.Printf("rank: chosen path %s disagrees with rank %s, using %s", chosen, n.ID, n.Path)
		}
		chosen = n.Path
	case n.Path == PathBase && chosen != PathBase:
		logger.Printf("rank: clearing chosen path %s on base rank", chosen)
		chosen = PathBase
	}
	p.chosen = chosen

	want, _ := g.CostTo(n.ID)
	if s.Spent != want && s.Rank != "" {
		logger.Printf("rank: spent %d does not match %s (cost %d), repairing", s.Spent, n.ID, want)
	}
	p.spent = want
	return p
}

// Store owns the progression of every guard in a world.
type Store struct {
	graph  *Graph
	logger *log.Logger

	mu      sync.RWMutex
	byAgent map[model.ID]*Progression
}

func NewStore(g *Graph, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{graph: g, logger: logger, byAgent: map[model.ID]*Progression{}}
}

func (s *Store) Graph() *Graph { return s.graph }

// Get returns the agent's progression, starting it at the base rank if unseen.
func (s *Store) Get(agent model.ID) *Progression {
	s.mu.RLock()
	p := s.byAgent[agent]
	s.mu.RUnlock()
	if p != nil {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p = s.byAgent[agent]; p == nil {
		p = s.graph.NewProgression()
		s.byAgent[agent] = p
	}
	return p
}

func (s *Store) Restore(agent model.ID, snap Snapshot) *Progression {
	p := s.graph.Restore(snap, s.logger)
	s.mu.Lock()
	s.byAgent[agent] = p
	s.mu.Unlock()
	return p
}

func (s *Store) Remove(agent model.ID) {
	s.mu.Lock()
	delete(s.byAgent, agent)
	s.mu.Unlock()
}

// Tier is the agent's current tier; unseen agents are at tier 0.
func (s *Store) Tier(agent model.ID) int {
	s.mu.RLock()
	p := s.byAgent[agent]
	s.mu.RUnlock()
	if p == nil {
		return 0
	}
	return p.CurrentTier()
}

func (s *Store) Snapshots() map[model.ID]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ID]Snapshot, len(s.byAgent))
	for id, p := range s.byAgent {
		out[id] = p.Snapshot()
	}
	return out
}
