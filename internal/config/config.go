package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port               int
	LogLevel           string
	MemobaseAPIKey     string
	MemobaseProjectURL string
	ProfileConfigPath  string
	DatabaseURL        string
	NatsURL            string
	NatsToken          string
	SlackBotToken      string
	SlackChannel       string
}

func Load() Config {
	return Config{
		Port:               envInt("REPLAY_PORT", 8780),
		LogLevel:           envStr("LOG_LEVEL", "info"),
		MemobaseAPIKey:     envStr("MEMOBASE_API_KEY", ""),
		MemobaseProjectURL: envStr("MEMOBASE_PROJECT_URL", "https://api.memobase.dev"),
		ProfileConfigPath:  envStr("MEMOBASE_CONFIG_PATH", "config.yaml"),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		NatsURL:            envStr("NATS_URL", ""),
		NatsToken:          envStr("NATS_TOKEN", ""),
		SlackBotToken:      envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:       envStr("SLACK_REPLAY_CHANNEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
