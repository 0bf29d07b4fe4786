package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds behavior knobs loaded from an optional TOML file. Anything
// not set in the file keeps its default.
type Config struct {
	UserAgent                string `toml:"user_agent"`
	FetchTimeoutSeconds      int    `toml:"fetch_timeout_seconds"`
	ImageProxyTimeoutSeconds int    `toml:"image_proxy_timeout_seconds"`
	AllowOrigins             string `toml:"allow_origins"`
	MaxCreateArticles        int    `toml:"max_create_articles"`
}

func Default() Config {
	return Config{
		UserAgent:                "feedbox/1.0 (+https://github.com/feedbox/feedbox)",
		FetchTimeoutSeconds:      10,
		ImageProxyTimeoutSeconds: 15,
		AllowOrigins:             "http://localhost:3001",
		MaxCreateArticles:        100,
	}
}

// Load reads the config file at path. A missing file is not an error; the
// defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}
