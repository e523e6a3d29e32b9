// Package config loads environment-driven configuration structs using
// caarlos0/env field tags, with an optional .env file picked up once
// via godotenv for local development.
package config

import (
	"errors"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrNilPointer    = errors.New("nil pointer provided to config loader")
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
)

var defaultEnvLoaded sync.Once

// Load parses environment variables into the provided struct based on
// its `env` field tags.
//
// Example:
//
//	type PGConfig struct {
//		ConnURL string `env:"PG_CONN_URL,required"`
//	}
//
//	var cfg PGConfig
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional; absence is not an error.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics on failure. Used at startup for
// configuration the process cannot run without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(err)
	}
}
