package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"orderbooks/internal/book"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	StrategyTree = "tree"
	StrategyTick = "tick"

	IDsUUID       = "uuid"
	IDsSequential = "sequential"

	ClockSystem = "system"
	ClockTick   = "tick"
)

// Config holds the configuration for the exchange server.
type Config struct {
	Address string `env:"ADDRESS" envDefault:"0.0.0.0"`
	Port    int    `env:"PORT" envDefault:"9001"`
	Workers int    `env:"WORKERS" envDefault:"10"` // Concurrent client connections served

	BookConfig  `envPrefix:"BOOK_"`  // Level index configuration
	ClockConfig `envPrefix:"CLOCK_"` // Time source configuration
	KafkaConfig `envPrefix:"KAFKA_"` // Trade publishing, disabled without brokers

	OrderIDs string `env:"ORDER_IDS" envDefault:"uuid"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type BookConfig struct {
	Strategy string  `env:"STRATEGY" envDefault:"tree"`
	TickSize float64 `env:"TICK_SIZE" envDefault:"0.01"`
}

type ClockConfig struct {
	Source   string        `env:"SOURCE" envDefault:"system"`
	Interval time.Duration `env:"INTERVAL" envDefault:"1ms"`
}

type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"trades"`
}

// Load reads the configuration from environment variables, after loading a
// .env file when one exists.
func Load() (Config, error) {
	// A missing .env file is fine; the environment alone is enough.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("unable to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	}
	switch c.Strategy {
	case StrategyTree:
	case StrategyTick:
		if _, err := book.TickFactory(c.TickSize); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown book strategy %q", ErrInvalidConfig, c.Strategy)
	}
	switch c.OrderIDs {
	case IDsUUID, IDsSequential:
	default:
		return fmt.Errorf("%w: unknown order id scheme %q", ErrInvalidConfig, c.OrderIDs)
	}
	switch c.Source {
	case ClockSystem:
	case ClockTick:
		if c.Interval <= 0 {
			return fmt.Errorf("%w: clock interval %v", ErrInvalidConfig, c.Interval)
		}
	default:
		return fmt.Errorf("%w: unknown clock source %q", ErrInvalidConfig, c.Source)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Sides returns the level index factory the configuration selects.
func (c Config) Sides() (book.Factory, error) {
	if c.Strategy == StrategyTick {
		return book.TickFactory(c.TickSize)
	}
	return book.TreeFactory(), nil
}

// Level returns the configured log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
