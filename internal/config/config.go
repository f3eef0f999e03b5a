package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates the settings of the relay service.
type Config struct {
	Server   ServerConfig
	Telegram TelegramConfig
	Retell   RetellConfig
	Session  SessionConfig
}

// Load reads configuration from environment variables. Missing required
// credentials are a startup error, never a runtime one.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	telegram, err := loadTelegramConfig()
	if err != nil {
		return nil, err
	}

	retell, err := loadRetellConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Telegram: telegram, Retell: retell, Session: session}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// TelegramConfig holds the Bot API credential and webhook settings.
type TelegramConfig struct {
	BotToken      string
	BaseURL       string
	WebhookSecret string
}

func loadTelegramConfig() (TelegramConfig, error) {
	token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if token == "" {
		return TelegramConfig{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	return TelegramConfig{
		BotToken:      token,
		BaseURL:       getEnvOrDefault("TELEGRAM_API_BASE_URL", ""),
		WebhookSecret: strings.TrimSpace(os.Getenv("TELEGRAM_WEBHOOK_SECRET")),
	}, nil
}

// RetellConfig holds the backend API credential and agent identity.
type RetellConfig struct {
	APIKey  string
	AgentID string
	BaseURL string
}

func loadRetellConfig() (RetellConfig, error) {
	apiKey := strings.TrimSpace(os.Getenv("RETELL_API_KEY"))
	if apiKey == "" {
		return RetellConfig{}, fmt.Errorf("RETELL_API_KEY is required")
	}

	agentID := strings.TrimSpace(os.Getenv("RETELL_AGENT_ID"))
	if agentID == "" {
		return RetellConfig{}, fmt.Errorf("RETELL_AGENT_ID is required")
	}

	return RetellConfig{
		APIKey:  apiKey,
		AgentID: agentID,
		BaseURL: getEnvOrDefault("RETELL_BASE_URL", ""),
	}, nil
}

// SessionConfig describes session eviction behavior.
type SessionConfig struct {
	IdleTimeout time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	idle, err := parseOptionalDurationEnv("SESSION_IDLE_TIMEOUT")
	if err != nil {
		return SessionConfig{}, err
	}

	cfg := SessionConfig{IdleTimeout: 30 * time.Minute}
	if idle != nil {
		if *idle <= 0 {
			return SessionConfig{}, fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %s", *idle)
		}
		cfg.IdleTimeout = *idle
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
