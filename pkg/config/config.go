// Package config loads a consumer's configuration from environment
// variables (optionally seeded from an env file) into tagged structs, then
// validates the result.
//
// Usage:
//
//	type AppConfig struct {
//		Queue    string `env:"BEETLE_QUEUE" env-default:"messages" validate:"required"`
//		LogLevel string `env:"LOG_LEVEL" env-default:"INFO"`
//	}
//
//	var cfg AppConfig
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/joevandyk/beetle/pkg/errors"
)

// DefaultEnvFile is read when present; BEETLE_ENV_FILE overrides the path.
const DefaultEnvFile = ".env"

// Load fills cfg from the environment and validates it. When an env file
// exists it is read first, with real environment variables taking
// precedence as usual for cleanenv.
func Load[T any](cfg *T) error {
	file := os.Getenv("BEETLE_ENV_FILE")
	if file == "" {
		file = DefaultEnvFile
	}

	if _, err := os.Stat(file); err == nil {
		if err := cleanenv.ReadConfig(file, cfg); err != nil {
			return errors.New(errors.CodeInvalidArgument, "failed to read env file "+file, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return errors.New(errors.CodeInvalidArgument, "failed to read environment", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return errors.New(errors.CodeInvalidArgument, "config validation failed", err)
	}
	return nil
}

// MustLoad is Load for program startup: it exits the process with the
// loader error instead of returning it.
func MustLoad[T any]() T {
	var cfg T
	if err := Load(&cfg); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	return cfg
}
