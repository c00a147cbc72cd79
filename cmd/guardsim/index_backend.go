package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"guardsim.ai/internal/persistence/indexdb"
	"guardsim.ai/internal/sim/catalogs"
	"guardsim.ai/internal/sim/tuning"
	"guardsim.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.Sink
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
}

func openRuntimeIndex(worldDir, worldID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("GUARDSIM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("GUARDSIM_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("GUARDSIM_INDEX_BACKEND=remote but GUARDSIM_INDEX_INGEST_URL is empty")
		}
		idx, err := indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("GUARDSIM_INDEX_TOKEN")),
			WorldID:       worldID,
			BatchSize:     envInt("GUARDSIM_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("GUARDSIM_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported GUARDSIM_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
