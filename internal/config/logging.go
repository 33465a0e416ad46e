package config

import "github.com/caarlos0/env/v11"

// LogConfig drives logging.Init. Service is stamped on every line so the
// game server and bots can share one sink.
type LogConfig struct {
	Service     string `env:"LOG_SERVICE" envDefault:"staked-arena"`
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SampleEvery int    `env:"LOG_SAMPLE_EVERY" envDefault:"0"`
	File        string `env:"LOG_FILE"`
	MaxMB       int    `env:"LOG_MAX_MB" envDefault:"10"`
}

func LoadLog() (LogConfig, error) {
	return env.ParseAs[LogConfig]()
}
