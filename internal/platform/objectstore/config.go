package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blueprint-labs/blueprint/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketAssets  string
	BucketOutputs string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("BLUEPRINT_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("BLUEPRINT_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("BLUEPRINT_MINIO_ACCESS_KEY", "blueprint"),
		SecretKey:     env.String("BLUEPRINT_MINIO_SECRET_KEY", "blueprintminio"),
		Region:        env.String("BLUEPRINT_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketAssets:  env.String("BLUEPRINT_MINIO_BUCKET_ASSETS", "assets"),
		BucketOutputs: env.String("BLUEPRINT_MINIO_BUCKET_OUTPUTS", "template-output"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketAssets) == "" {
		return errors.New("assets bucket is required")
	}
	if strings.TrimSpace(c.BucketOutputs) == "" {
		return errors.New("outputs bucket is required")
	}
	if c.BucketAssets == c.BucketOutputs {
		return fmt.Errorf("assets and outputs buckets must differ: %q", c.BucketAssets)
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
