package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dicehall/dicehall/go/internal/session"
)

// Config is the client configuration, loaded from YAML with environment
// overrides applied on top.
type Config struct {
	Server struct {
		// BaseURL is the session service root, e.g. wss://play.example.com.
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	Player struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"player"`

	// SessionID is the session to join on startup.
	SessionID string `yaml:"session_id"`

	// Dice describes the local die set: id to face count.
	Dice map[string]int `yaml:"dice"`

	LogLevel string `yaml:"log_level"`

	Session session.Config `yaml:"session"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	config := &Config{Session: session.DefaultConfig()}
	config.LogLevel = "info"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server.BaseURL = getEnv("DICEHALL_SERVER_URL", config.Server.BaseURL)
	config.Player.ID = getEnv("DICEHALL_PLAYER_ID", config.Player.ID)
	config.Player.Name = getEnv("DICEHALL_PLAYER_NAME", config.Player.Name)
	config.SessionID = getEnv("DICEHALL_SESSION_ID", config.SessionID)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	if ms := getEnvAsInt("DICEHALL_RECONNECT_BASE_DELAY_MS", 0); ms > 0 {
		config.Session.Conn.BaseDelay = time.Duration(ms) * time.Millisecond
	}
	if ms := getEnvAsInt("DICEHALL_RESYNC_COOLDOWN_MS", 0); ms > 0 {
		config.Session.Watchdog.Cooldown = time.Duration(ms) * time.Millisecond
	}

	if config.Server.BaseURL == "" {
		return nil, fmt.Errorf("server base_url is required (DICEHALL_SERVER_URL)")
	}
	if config.Player.ID == "" {
		return nil, fmt.Errorf("player id is required (DICEHALL_PLAYER_ID)")
	}
	if config.SessionID == "" {
		return nil, fmt.Errorf("session_id is required (DICEHALL_SESSION_ID)")
	}
	if len(config.Dice) == 0 {
		// Standard five-die table.
		config.Dice = map[string]int{
			"d1": 6, "d2": 6, "d3": 6, "d4": 6, "d5": 6,
		}
	}

	return config, nil
}
