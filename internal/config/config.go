package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr        string
	DBPath            string
	RetentionInterval time.Duration
	KeepAutoSnapshots int
	ShutdownTimeout   time.Duration
}

func Load() *Config {
	addr := os.Getenv("RELAY_ADDR")
	if addr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		addr = ":" + port
	}

	dbPath := os.Getenv("RELAY_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}

	return &Config{
		ServerAddr:        addr,
		DBPath:            dbPath,
		RetentionInterval: envDuration("RELAY_RETENTION_INTERVAL", 10*time.Minute),
		KeepAutoSnapshots: envInt("RELAY_KEEP_AUTO_SNAPSHOTS", 20),
		ShutdownTimeout:   10 * time.Second,
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
