// Package config содержит логику чтения конфигурации сервиса генерации видео.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса генерации видео.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	TelegramAPIAddress  string `env:"TELEGRAM_API_ADDRESS"`
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramSecretToken string `env:"TELEGRAM_SECRET_TOKEN"`

	ImageAPIAddress      string `env:"IMAGE_API_ADDRESS"`
	VideoAPIAddress      string `env:"VIDEO_API_ADDRESS"`
	StoryboardAPIAddress string `env:"STORYBOARD_API_ADDRESS"`

	YookassaShopID    string `env:"YOOKASSA_SHOP_ID"`
	YookassaSecretKey string `env:"YOOKASSA_SECRET_KEY"`
	YookassaReturnURL string `env:"YOOKASSA_RETURN_URL"`

	AdminToken string `env:"ADMIN_TOKEN"`

	WelcomeBonus  int64         `env:"WELCOME_BONUS"`
	StarsRate     float64       `env:"TELEGRAM_STARS_RATE"`
	PollInterval  time.Duration `env:"POLL_INTERVAL"`
	OrderTimeout  time.Duration `env:"ORDER_TIMEOUT"`
	MaxRetries    int           `env:"MAX_RETRIES"`
	RateLimit     int           `env:"RATE_LIMIT"`
	RateWindow    time.Duration `env:"RATE_WINDOW"`
	StateIdleTTL  time.Duration `env:"STATE_IDLE_TTL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envVideoAddress := cfg.VideoAPIAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.VideoAPIAddress, "r", "", "video generation API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envVideoAddress != "" {
		cfg.VideoAPIAddress = envVideoAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.WelcomeBonus == 0 {
		cfg.WelcomeBonus = 500
	}
	if cfg.StarsRate == 0 {
		cfg.StarsRate = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = 2 * time.Hour
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 40
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.StateIdleTTL == 0 {
		cfg.StateIdleTTL = 30 * time.Minute
	}

	return cfg, nil
}
