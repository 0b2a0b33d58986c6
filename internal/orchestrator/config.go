package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blueprint-labs/blueprint/internal/imagecache"
	"github.com/blueprint-labs/blueprint/internal/platform/env"
)

// DefaultPrimaryAlias is the alias whose bound asset names each output.
const DefaultPrimaryAlias = "fg"

type Config struct {
	// CacheSize is the number of decoded rasters kept per run.
	CacheSize    int
	PrimaryAlias string
}

func DefaultConfig() Config {
	return Config{CacheSize: imagecache.DefaultCapacity, PrimaryAlias: DefaultPrimaryAlias}
}

func ConfigFromEnv() (Config, error) {
	size, err := env.Int("BLUEPRINT_IMAGE_CACHE_SIZE", imagecache.DefaultCapacity)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		CacheSize:    size,
		PrimaryAlias: env.String("BLUEPRINT_PRIMARY_ALIAS", DefaultPrimaryAlias),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.CacheSize < 1 {
		return fmt.Errorf("image cache size must be positive, got %d", c.CacheSize)
	}
	if strings.TrimSpace(c.PrimaryAlias) == "" {
		return errors.New("primary alias is required")
	}
	return nil
}
