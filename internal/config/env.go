package config

import (
	"os"
	"strconv"
	"strings"
)

// resolveEnvPlaceholder expands "${VAR}" values from the environment.
// Anything else is returned unchanged.
func resolveEnvPlaceholder(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		name := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		return os.Getenv(name)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ApplyEnvOverrides lets deployment environments flip operational knobs
// without editing the config file. Only a small allowlist is honored;
// risk limits can only come from the config file.
func (c *Config) ApplyEnvOverrides() {
	c.Engine.TickInterval = getEnv("TRADER_TICK_INTERVAL", c.Engine.TickInterval)
	c.Monitoring.Enabled = getEnvBool("TRADER_MONITORING", c.Monitoring.Enabled)
	if c.Broker.Bybit != nil {
		if c.Broker.Bybit.APIKey == "" {
			c.Broker.Bybit.APIKey = getEnv("BYBIT_API_KEY", "")
		}
		if c.Broker.Bybit.APISecret == "" {
			c.Broker.Bybit.APISecret = getEnv("BYBIT_API_SECRET", "")
		}
		c.Broker.Bybit.Demo = getEnvBool("BYBIT_DEMO", c.Broker.Bybit.Demo)
		c.Broker.Bybit.Testnet = getEnvBool("BYBIT_TESTNET", c.Broker.Bybit.Testnet)
	}
	if c.Notification != nil {
		if c.Notification.TelegramToken == "" {
			c.Notification.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
		}
		if c.Notification.TelegramChatID == "" {
			c.Notification.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
		}
	}
}
