// Package config loads runtime configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all arenad settings.
type Config struct {
	DBPath    string `env:"ARENA_DB_PATH" envDefault:"data/arena.db"`
	LedgerURL string `env:"ARENA_LEDGER_URL" envDefault:"http://localhost:8899"`
	APIPort   int    `env:"ARENA_API_PORT" envDefault:"8080"`
	AdminKey  string `env:"ARENA_ADMIN_KEY"`

	RandomOrgKey string `env:"RANDOM_ORG_KEY"`

	LedgerTimeout    time.Duration `env:"ARENA_LEDGER_TIMEOUT" envDefault:"10s"`
	ResolveInterval  time.Duration `env:"ARENA_RESOLVE_INTERVAL" envDefault:"1m"`
	MoveBaseCooldown time.Duration `env:"ARENA_MOVE_COOLDOWN" envDefault:"1h"`
	BattleCooldown   time.Duration `env:"ARENA_BATTLE_COOLDOWN" envDefault:"4h"`
	AllianceCooldown time.Duration `env:"ARENA_ALLIANCE_COOLDOWN" envDefault:"24h"`
	IgnoreCooldown   time.Duration `env:"ARENA_IGNORE_COOLDOWN" envDefault:"30m"`
	BattleDuration   time.Duration `env:"ARENA_BATTLE_DURATION" envDefault:"1h"`

	InteractionRange float64 `env:"ARENA_INTERACTION_RANGE" envDefault:"20"`
	MapSeed          int64   `env:"ARENA_MAP_SEED" envDefault:"42"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
