package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	BotToken    string `env:"BOT_TOKEN"`
	GuildID     string `env:"GUILD_ID"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HouseAccountID  string `env:"HOUSE_ACCOUNT_ID" envDefault:"house"`
	StartingBalance int64  `env:"STARTING_BALANCE" envDefault:"1000"`

	SessionMaxAge      time.Duration `env:"SESSION_MAX_AGE" envDefault:"30m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"90s"`
	SessionLockTimeout time.Duration `env:"SESSION_LOCK_TIMEOUT" envDefault:"5s"`
	SettleMaxAttempts  uint          `env:"SETTLE_MAX_ATTEMPTS" envDefault:"3"`
}

// LoadConfig loads envFile into the environment if it exists, then parses Config.
// Variables already set in the environment win over the file.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the bot cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.StartingBalance < 0 {
		errs = append(errs, fmt.Errorf("STARTING_BALANCE must not be negative"))
	}
	if c.SessionMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_MAX_AGE must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive"))
	}
	if c.SettleMaxAttempts == 0 {
		errs = append(errs, fmt.Errorf("SETTLE_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

// LedgerBackend names the ledger the configuration selects.
func (c Config) LedgerBackend() string {
	switch {
	case strings.TrimSpace(c.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(c.SQLitePath) != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// HealthAddr is the listen address of the health server.
func (c Config) HealthAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
