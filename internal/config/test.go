package config

import "github.com/caarlos0/env/v11"

// TestConfig is read by store-backed tests; they skip when the DSN is unset.
type TestConfig struct {
	PostgresDSN  string `env:"TEST_POSTGRES_DSN,required,notEmpty"`
	SchemaPrefix string `env:"TEST_SCHEMA_PREFIX" envDefault:"arena_test"`
}

func LoadTest() (TestConfig, error) {
	return env.ParseAs[TestConfig]()
}
