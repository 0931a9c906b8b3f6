package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"structcraft.ai/internal/persistence/indexdb"
)

// openIndex opens the read-model index selected by STRUCTCRAFT_INDEX_BACKEND.
// A nil index means indexing is off.
func openIndex(path string, disableDB bool, logger *log.Logger) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("STRUCTCRAFT_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		logger.Printf("index disabled (STRUCTCRAFT_INDEX_BACKEND=%s)", backend)
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported STRUCTCRAFT_INDEX_BACKEND: %s", backend)
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
