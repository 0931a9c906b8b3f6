package main

import (
	"log"
	"os"
	"strconv"
	"strings"

	"structcraft.ai/internal/persistence/backup"
)

// buildMirror returns nil when STRUCTCRAFT_BACKUP_ENDPOINT is unset.
func buildMirror(dataDir string, logger *log.Logger) (*backup.Mirror, error) {
	cfg, ok := backup.ConfigFromEnv()
	if !ok {
		return nil, nil
	}
	client, err := backup.NewS3(cfg)
	if err != nil {
		return nil, err
	}
	logger.Printf("backup mirror enabled: bucket=%s prefix=%q", cfg.Bucket, cfg.Prefix)
	return backup.NewMirror(client, backup.MirrorOptions{
		DataDir: dataDir,
		Prefix:  cfg.Prefix,
		Workers: envInt("STRUCTCRAFT_BACKUP_WORKERS", 2),
		Logger:  logger,
	}), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
