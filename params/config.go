package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Engine struct {
	// PassInterval is the time between matching passes. A tick that fires
	// while the previous pass is still running is skipped, never queued.
	PassInterval time.Duration

	// StoreOpTimeout bounds a single matching pass so an unresponsive
	// store cannot stall the scheduler indefinitely.
	StoreOpTimeout time.Duration
}

type Store struct {
	// Path is the directory of the Pebble ledger database.
	Path string
}

type API struct {
	ListenAddr string
}

type Log struct {
	// File is an optional log file path. Empty means console only.
	File string
}

type Config struct {
	Engine Engine
	Store  Store
	API    API
	Log    Log
}

func Default() Config {
	return Config{
		Engine: Engine{
			PassInterval:   5 * time.Second,
			StoreOpTimeout: 30 * time.Second,
		},
		Store: Store{
			Path: "data/ledger.db",
		},
		API: API{
			ListenAddr: ":8080",
		},
		Log: Log{
			File: "",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("PASS_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Engine.PassInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("STORE_OP_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Engine.StoreOpTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	return cfg
}
