package catalogs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_ParsesEmbeddedRanks(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if got := len(c.Ranks.Ranks); got != 9 {
		t.Fatalf("ranks=%d want 9", got)
	}
	knight, ok := c.Ranks.ByID["knight"]
	if !ok || knight.Cost != 75 || knight.Tier != 4 || knight.Ability != "knockback_strike" {
		t.Fatalf("knight=%+v", knight)
	}
	if len(c.Ranks.Digest) != 64 {
		t.Fatalf("digest=%q", c.Ranks.Digest)
	}
}

func TestLoad_FallsBackWhenFileMissing(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, _ := Default()
	if c.Ranks.Digest != d.Ranks.Digest {
		t.Fatalf("expected embedded catalog")
	}
}

func TestLoad_RejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"bad path":     `{"version":1,"ranks":[{"id":"recruit","label":"R","tier":0,"path":"magic","cost":0,"health":10,"damage":0}]}`,
		"tier too big": `{"version":1,"ranks":[{"id":"recruit","label":"R","tier":5,"path":"base","cost":0,"health":10,"damage":0}]}`,
		"extra field":  `{"version":1,"ranks":[],"bonus":true}`,
		"dup rank": `{"version":1,"ranks":[
			{"id":"recruit","label":"R","tier":0,"path":"base","cost":0,"health":10,"damage":0},
			{"id":"recruit","label":"R","tier":0,"path":"base","cost":0,"health":10,"damage":0}]}`,
		"unknown ability": `{"version":1,"ranks":[{"id":"recruit","label":"R","tier":0,"path":"base","cost":0,"health":10,"damage":0,"ability":"nope"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "ranks.json"), []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := Load(dir)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), "ranks.json") {
				t.Fatalf("error should name the file: %v", err)
			}
		})
	}
}
