// Package config содержит логику чтения конфигурации моста сессий розыгрыша.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации моста сессий розыгрыша.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	GatewayAddress string `env:"GATEWAY_ADDRESS"`
	RaffleAddress  string `env:"RAFFLE_ADDRESS"`
	SessionSecret  string `env:"SESSION_SECRET"`
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID string `env:"TELEGRAM_CHAT_ID"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envGatewayAddress := cfg.GatewayAddress
	envRaffleAddress := cfg.RaffleAddress
	envSessionSecret := cfg.SessionSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "chain gateway address")
	flag.StringVar(&cfg.RaffleAddress, "r", "", "raffle account address")
	flag.StringVar(&cfg.SessionSecret, "s", "", "secret key for session cookies")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}
	if envRaffleAddress != "" {
		cfg.RaffleAddress = envRaffleAddress
	}
	if envSessionSecret != "" {
		cfg.SessionSecret = envSessionSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
