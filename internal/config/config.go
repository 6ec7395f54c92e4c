package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the server needs from the environment. Fields
// default to sane development values so the service starts with no env set.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	ServerPort string

	// Initial bonus credited to every new account, in currency units.
	SeedBonus string

	// PIN challenge hardening.
	PinMaxAttempts  int
	PinLockout      time.Duration
	ChallengeWindow time.Duration

	// Bounded retry on storage write contention.
	ConflictRetries int
	ConflictBackoff time.Duration

	// Notification dispatcher sizing.
	NotifyWorkers int
	NotifyBuffer  int
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "wallet_ledger"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		SeedBonus: getEnv("SEED_BONUS", "50.00"),

		PinMaxAttempts:  getEnvInt("PIN_MAX_ATTEMPTS", 5),
		PinLockout:      getEnvDuration("PIN_LOCKOUT", 15*time.Minute),
		ChallengeWindow: getEnvDuration("CHALLENGE_WINDOW", 2*time.Minute),

		ConflictRetries: getEnvInt("CONFLICT_RETRIES", 3),
		ConflictBackoff: getEnvDuration("CONFLICT_BACKOFF", 50*time.Millisecond),

		NotifyWorkers: getEnvInt("NOTIFY_WORKERS", 2),
		NotifyBuffer:  getEnvInt("NOTIFY_BUFFER", 256),
	}
}

// GetDBConnectionString builds the lib/pq DSN.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
