// Package config provides configuration management for momentum.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "time/tzdata" // Named zones resolve on hosts without zoneinfo

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultWorkerHost         = "127.0.0.1"
	DefaultWorkerPort         = 37800
	DefaultDBDriver           = "sqlite"
	DefaultMaxConns           = 4
	DefaultDailyMomentumCap   = 30
	DefaultMaxPlaysPerDay     = 3
	DefaultPracticePowerDelta = 5
	DefaultTimezone           = "UTC"
	DefaultLockTTLSeconds     = 10
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"
)

// Environment variables that override the settings file.
const (
	EnvWorkerHost = "MOMENTUM_WORKER_HOST"
	EnvWorkerPort = "MOMENTUM_WORKER_PORT"
	EnvDBDriver   = "MOMENTUM_DB_DRIVER"
	EnvDBPath     = "MOMENTUM_DB_PATH"
	EnvDBDSN      = "MOMENTUM_DB_DSN"
	EnvRedisAddr  = "MOMENTUM_REDIS_ADDR"
	EnvTimezone   = "MOMENTUM_TIMEZONE"
	EnvLogLevel   = "MOMENTUM_LOG_LEVEL"
	EnvLogFormat  = "MOMENTUM_LOG_FORMAT"
)

// Config holds the service settings. JSON keys match settings.json.
type Config struct {
	WorkerHost         string `json:"MOMENTUM_WORKER_HOST"`
	DBDriver           string `json:"MOMENTUM_DB_DRIVER"`
	DBPath             string `json:"MOMENTUM_DB_PATH"`
	DBDSN              string `json:"MOMENTUM_DB_DSN"`
	RedisAddr          string `json:"MOMENTUM_REDIS_ADDR"`
	RedisPassword      string `json:"MOMENTUM_REDIS_PASSWORD"`
	Timezone           string `json:"MOMENTUM_TIMEZONE"`
	LogLevel           string `json:"MOMENTUM_LOG_LEVEL"`
	LogFormat          string `json:"MOMENTUM_LOG_FORMAT"`
	WorkerPort         int    `json:"MOMENTUM_WORKER_PORT"`
	MaxConns           int    `json:"MOMENTUM_MAX_CONNS"`
	DailyMomentumCap   int    `json:"MOMENTUM_DAILY_MOMENTUM_CAP"`
	MaxPlaysPerDay     int    `json:"MOMENTUM_MAX_PLAYS_PER_ARTIFACT_PER_DAY"`
	PracticePowerDelta int    `json:"MOMENTUM_PRACTICE_POWER_DELTA"`
	LockTTLSeconds     int    `json:"MOMENTUM_LOCK_TTL_SECONDS"`
}

var (
	global   *Config
	globalMu sync.RWMutex
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerHost:         DefaultWorkerHost,
		WorkerPort:         DefaultWorkerPort,
		DBDriver:           DefaultDBDriver,
		DBPath:             DBPath(),
		MaxConns:           DefaultMaxConns,
		DailyMomentumCap:   DefaultDailyMomentumCap,
		MaxPlaysPerDay:     DefaultMaxPlaysPerDay,
		PracticePowerDelta: DefaultPracticePowerDelta,
		Timezone:           DefaultTimezone,
		LockTTLSeconds:     DefaultLockTTLSeconds,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
	}
}

// DataDir returns the data directory path.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".momentum")
}

// DBPath returns the SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "momentum.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	defaults := Default()
	// The database path follows HOME unless pinned explicitly
	defaults.DBPath = ""
	data, err := json.MarshalIndent(defaults, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := EnsureSettings(); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	return nil
}

// Load reads settings.json and applies environment overrides. A missing or
// unparsable file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			cfg = Default()
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// Get returns the cached configuration, loading it on first use.
func Get() *Config {
	globalMu.RLock()
	cfg := global
	globalMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		loaded, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load config, using defaults")
			loaded = Default()
		}
		global = loaded
	}
	return global
}

// Reload re-reads the settings file and replaces the cached configuration.
// On error the cached value is left untouched.
func Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	globalMu.Lock()
	global = cfg
	globalMu.Unlock()
	return cfg, nil
}

// GetWorkerPort returns the worker port, preferring MOMENTUM_WORKER_PORT.
func GetWorkerPort() int {
	if port, ok := envInt(EnvWorkerPort); ok {
		return port
	}
	return Get().WorkerPort
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LockTTL returns the distributed lock TTL.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Addr returns the worker listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvWorkerHost)); v != "" {
		c.WorkerHost = v
	}
	if port, ok := envInt(EnvWorkerPort); ok {
		c.WorkerPort = port
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBDriver)); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBPath)); v != "" {
		c.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBDSN)); v != "" {
		c.DBDSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		c.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimezone)); v != "" {
		c.Timezone = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
}

// fillDefaults replaces zero or negative tunables with their defaults.
func (c *Config) fillDefaults() {
	if c.WorkerHost == "" {
		c.WorkerHost = DefaultWorkerHost
	}
	if c.WorkerPort <= 0 {
		c.WorkerPort = DefaultWorkerPort
	}
	if c.DBDriver == "" {
		c.DBDriver = DefaultDBDriver
	}
	if c.DBPath == "" {
		c.DBPath = DBPath()
	}
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.DailyMomentumCap <= 0 {
		c.DailyMomentumCap = DefaultDailyMomentumCap
	}
	if c.MaxPlaysPerDay <= 0 {
		c.MaxPlaysPerDay = DefaultMaxPlaysPerDay
	}
	if c.PracticePowerDelta < 0 {
		c.PracticePowerDelta = DefaultPracticePowerDelta
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.LockTTLSeconds <= 0 {
		c.LockTTLSeconds = DefaultLockTTLSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
