package catalogs

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed ranks.json ranks.schema.json
var embedded embed.FS

const ranksSchemaURL = "https://guardsim.ai/schemas/ranks.schema.json"

type Catalogs struct {
	Ranks RankCatalog
}

type RankCatalog struct {
	Version   int          `json:"version"`
	Ranks     []RankDef    `json:"ranks"`
	Abilities []AbilityDef `json:"abilities"`

	ByID      map[string]RankDef    `json:"-"`
	AbilityBy map[string]AbilityDef `json:"-"`
	Digest    string                `json:"-"`
}

type RankDef struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Tier      int     `json:"tier"`
	Path      string  `json:"path"` // "base","melee","ranged"
	Previous  string  `json:"previous,omitempty"`
	Cost      int     `json:"cost"`
	Health    float64 `json:"health"`
	Damage    float64 `json:"damage"`
	DrawSpeed float64 `json:"draw_speed,omitempty"`
	Ability   string  `json:"ability,omitempty"`
}

type AbilityDef struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"` // "KNOCKBACK","DOUBLE_SHOT","PIERCING_SHOT"
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Chance      float64 `json:"chance"`

	Strength   float64 `json:"strength,omitempty"`
	Lift       float64 `json:"lift,omitempty"`
	Range      float64 `json:"range,omitempty"`
	MaxTargets int     `json:"max_targets,omitempty"`
	Falloff    float64 `json:"falloff,omitempty"`
	MinDot     float64 `json:"min_dot,omitempty"`
}

// Load reads ranks.json from configDir. An empty configDir, or a directory without
// ranks.json, yields the embedded catalog.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if configDir == "" {
		return Default()
	}
	p := filepath.Join(configDir, "ranks.json")
	raw, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return Default()
	}
	if err != nil {
		return nil, err
	}
	if err := loadRanks(raw, &c.Ranks); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalogs, error) {
	raw, err := embedded.ReadFile("ranks.json")
	if err != nil {
		return nil, err
	}
	var c Catalogs
	if err := loadRanks(raw, &c.Ranks); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func ranksSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := embedded.ReadFile("ranks.schema.json")
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(ranksSchemaURL, bytes.NewReader(raw)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(ranksSchemaURL)
	})
	return schema, schemaErr
}

func loadRanks(raw []byte, out *RankCatalog) error {
	s, err := ranksSchema()
	if err != nil {
		return fmt.Errorf("ranks.schema.json: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("ranks.json: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("ranks.json: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ranks.json: %w", err)
	}
	out.Digest = sha256Hex(raw)

	out.AbilityBy = map[string]AbilityDef{}
	for _, a := range out.Abilities {
		if _, dup := out.AbilityBy[a.ID]; dup {
			return fmt.Errorf("ranks.json: duplicate ability %q", a.ID)
		}
		out.AbilityBy[a.ID] = a
	}
	out.ByID = map[string]RankDef{}
	for _, r := range out.Ranks {
		if _, dup := out.ByID[r.ID]; dup {
			return fmt.Errorf("ranks.json: duplicate rank %q", r.ID)
		}
		if r.Ability != "" {
			if _, ok := out.AbilityBy[r.Ability]; !ok {
				return fmt.Errorf("ranks.json: rank %q: unknown ability %q", r.ID, r.Ability)
			}
		}
		out.ByID[r.ID] = r
	}
	return nil
}
