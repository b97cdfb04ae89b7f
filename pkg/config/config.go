// Package config loads server settings from the environment.
package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// DBPath is the SQLite file backing the persisted state blob. Empty
	// selects the in-memory store (state lost on restart).
	DBPath string

	// HistoryDepth bounds the undo stack; 0 keeps it unbounded.
	HistoryDepth int
}

func Load() *Config {
	return &Config{
		Addr:         getEnv("DEBTCALC_ADDR", ":8080"),
		DBPath:       getEnv("DEBTCALC_DB_PATH", "debtcalc.db"),
		HistoryDepth: getEnvInt("DEBTCALC_HISTORY_DEPTH", 0),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
