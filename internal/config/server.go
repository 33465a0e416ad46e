package config

import "github.com/caarlos0/env/v11"

type ServerConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	RedisURL    string `env:"REDIS_URL"`

	AdminAPIKey string `env:"ADMIN_API_KEY"`

	ReconnectGraceSeconds int     `env:"RECONNECT_GRACE_SECONDS" envDefault:"30"`
	StakeTiers            []int64 `env:"STAKE_TIERS" envSeparator:"," envDefault:"1,5,25,100"`
	TimeControlsPath      string  `env:"TIME_CONTROLS_PATH"`

	KafkaBrokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic        string   `env:"KAFKA_TOPIC" envDefault:"arena.match-ended"`
	NotifyWorkers     int      `env:"NOTIFY_WORKERS" envDefault:"2"`
	NotifyRetryMax    int      `env:"NOTIFY_RETRY_MAX" envDefault:"3"`
	NotifyRetryBaseMS int      `env:"NOTIFY_RETRY_BASE_MS" envDefault:"500"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
