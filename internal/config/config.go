package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	DatabaseURL        string
	DataDir            string
	CheckpointPath     string
	DiscoveryStatePath string
	BaseURL            string

	NumFileWorkers  int
	NumProbeWorkers int
	DBBatchSize     int

	RowErrorRate        float64
	RowErrorGraceCount  int
	ProbeTimeoutSeconds int

	MinCoverage    float64
	MaxOrphanRate  float64
	CountTolerance float64
}

func New() (*Config, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	cfg := &Config{
		DatabaseURL:         databaseURL,
		DataDir:             "data",
		CheckpointPath:      "maude_checkpoint.json",
		DiscoveryStatePath:  "maude_discovery_state.json",
		BaseURL:             "https://www.accessdata.fda.gov/MAUDE/ftparea",
		NumFileWorkers:      4,
		NumProbeWorkers:     6,
		DBBatchSize:         20000,
		RowErrorRate:        0.05,
		RowErrorGraceCount:  50,
		ProbeTimeoutSeconds: 30,
		MinCoverage:         0.90,
		MaxOrphanRate:       0.05,
		CountTolerance:      0.01,
	}

	cfg.DataDir = getEnv("MAUDE_DATA_DIR", cfg.DataDir)
	cfg.CheckpointPath = getEnv("MAUDE_CHECKPOINT_PATH", cfg.CheckpointPath)
	cfg.DiscoveryStatePath = getEnv("MAUDE_DISCOVERY_STATE_PATH", cfg.DiscoveryStatePath)
	cfg.BaseURL = getEnv("MAUDE_BASE_URL", cfg.BaseURL)

	var err error
	if cfg.NumFileWorkers, err = getEnvAsInt("NUM_FILE_WORKERS", cfg.NumFileWorkers); err != nil {
		return nil, err
	}
	if cfg.NumProbeWorkers, err = getEnvAsInt("NUM_PROBE_WORKERS", cfg.NumProbeWorkers); err != nil {
		return nil, err
	}
	if cfg.DBBatchSize, err = getEnvAsInt("DB_BATCH_SIZE", cfg.DBBatchSize); err != nil {
		return nil, err
	}
	if cfg.RowErrorGraceCount, err = getEnvAsInt("ROW_ERROR_GRACE_COUNT", cfg.RowErrorGraceCount); err != nil {
		return nil, err
	}
	if cfg.ProbeTimeoutSeconds, err = getEnvAsInt("PROBE_TIMEOUT_SECONDS", cfg.ProbeTimeoutSeconds); err != nil {
		return nil, err
	}
	if cfg.RowErrorRate, err = getEnvAsFloat("ROW_ERROR_RATE", cfg.RowErrorRate); err != nil {
		return nil, err
	}
	if cfg.MinCoverage, err = getEnvAsFloat("MIN_COVERAGE", cfg.MinCoverage); err != nil {
		return nil, err
	}
	if cfg.MaxOrphanRate, err = getEnvAsFloat("MAX_ORPHAN_RATE", cfg.MaxOrphanRate); err != nil {
		return nil, err
	}
	if cfg.CountTolerance, err = getEnvAsFloat("COUNT_TOLERANCE", cfg.CountTolerance); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected a number, got '%s'", key, valueStr)
	}
	return value, nil
}
