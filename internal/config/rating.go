package config

import "github.com/caarlos0/env/v11"

type RatingConfig struct {
	Cron             string  `env:"RATING_CRON" envDefault:"0 3 * * 1"`
	Enabled          bool    `env:"RATING_ENABLED" envDefault:"true"`
	BatchSize        int     `env:"RATING_BATCH_SIZE" envDefault:"100"`
	MaxAttempts      int     `env:"RATING_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseMS      int     `env:"RATING_RETRY_BASE_MS" envDefault:"200"`
	FailureThreshold float64 `env:"RATING_FAILURE_THRESHOLD" envDefault:"0.2"`
}

func LoadRating() (RatingConfig, error) {
	var cfg RatingConfig
	err := env.Parse(&cfg)
	return cfg, err
}
