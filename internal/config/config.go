package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Run modes
const (
	ModeShadow = "shadow" // решения и валидация без обращений к узлу
	ModeLive   = "live"
)

// Config содержит все настройки приложения
type Config struct {
	Store       StoreConfig
	LND         LNDConfig
	Telegram    TelegramConfig
	Mode        string
	Interval    time.Duration
	Concurrency int
	PolicyPath  string
	Profile     string
	LogLevel    string
	LogPretty   bool
}

// StoreConfig общее хранилище счетчиков и аудита
type StoreConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LNDConfig доступ к REST API узла
type LNDConfig struct {
	BaseURL           string
	MacaroonHex       string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Resources         []string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

// Load загружает конфигурацию из .env файла и переменных окружения
func Load() (*Config, error) {
	// .env опционален
	_ = godotenv.Load()

	interval, err := time.ParseDuration(getEnv("CYCLE_INTERVAL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CYCLE_INTERVAL: %w", err)
	}

	concurrency, err := strconv.Atoi(getEnv("CYCLE_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid CYCLE_CONCURRENCY: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("STORE_MAX_OPEN_CONNS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("STORE_MAX_IDLE_CONNS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("STORE_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_CONN_MAX_LIFETIME: %w", err)
	}

	lndTimeout, err := time.ParseDuration(getEnv("LND_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid LND_TIMEOUT: %w", err)
	}

	rps, err := strconv.ParseFloat(getEnv("LND_REQUESTS_PER_SECOND", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LND_REQUESTS_PER_SECOND: %w", err)
	}

	burst, err := strconv.Atoi(getEnv("LND_BURST", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid LND_BURST: %w", err)
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	logPretty, err := strconv.ParseBool(getEnv("LOG_PRETTY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_PRETTY: %w", err)
	}

	config := &Config{
		Store: StoreConfig{
			Driver:          getEnv("STORE_DRIVER", DriverMemory),
			DSN:             getEnv("STORE_DSN", ""),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		LND: LNDConfig{
			BaseURL:           getEnv("LND_BASE_URL", "https://localhost:8080"),
			MacaroonHex:       getEnv("LND_MACAROON_HEX", ""),
			Timeout:           lndTimeout,
			RequestsPerSecond: rps,
			Burst:             burst,
			Resources:         splitList(getEnv("LND_RESOURCES", "")),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   chatID,
		},
		Mode:        getEnv("AUTOPILOT_MODE", ModeShadow),
		Interval:    interval,
		Concurrency: concurrency,
		PolicyPath:  getEnv("POLICY_PATH", "policy.yaml"),
		Profile:     getEnv("POLICY_PROFILE", DefaultProfile),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   logPretty,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("STORE_DSN is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Mode != ModeShadow && c.Mode != ModeLive {
		return fmt.Errorf("AUTOPILOT_MODE must be %q or %q, got %q", ModeShadow, ModeLive, c.Mode)
	}
	if c.LND.BaseURL == "" {
		return fmt.Errorf("LND_BASE_URL is required")
	}
	if c.Mode == ModeLive && c.LND.MacaroonHex == "" {
		return fmt.Errorf("LND_MACAROON_HEX is required in live mode")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("CYCLE_CONCURRENCY must be positive")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
