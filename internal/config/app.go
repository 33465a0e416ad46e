package config

import "fmt"

// AppConfig is everything the game server reads at boot.
type AppConfig struct {
	Log    LogConfig
	Server ServerConfig
	Rating RatingConfig
}

func LoadApp() (AppConfig, error) {
	var (
		cfg AppConfig
		err error
	)
	if cfg.Log, err = LoadLog(); err != nil {
		return AppConfig{}, fmt.Errorf("log config: %w", err)
	}
	if cfg.Server, err = LoadServer(); err != nil {
		return AppConfig{}, fmt.Errorf("server config: %w", err)
	}
	if cfg.Rating, err = LoadRating(); err != nil {
		return AppConfig{}, fmt.Errorf("rating config: %w", err)
	}
	return cfg, nil
}
