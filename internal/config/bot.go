package config

import "github.com/caarlos0/env/v11"

type BotConfig struct {
	WSURL    string `env:"WS_URL" envDefault:"ws://localhost:8080/ws"`
	PlayerID string `env:"PLAYER_ID" envDefault:"bot"`
	Mode     string `env:"BOT_MODE" envDefault:"BLITZ"`
	Option   string `env:"BOT_OPTION" envDefault:"BLITZ_3_PLUS_2"`
	Stake    int64  `env:"BOT_STAKE" envDefault:"1"`
	Loop     bool   `env:"BOT_LOOP" envDefault:"true"`
}

func LoadBot() (BotConfig, error) {
	var cfg BotConfig
	err := env.Parse(&cfg)
	return cfg, err
}
