package config

import "fmt"

// UploadConfig enables publishing generated reports to object storage.
type UploadConfig struct {
	Enabled bool     `yaml:"enabled"`
	S3      S3Config `yaml:"s3"`
}

// S3Config contains S3-compatible object storage settings.
type S3Config struct {
	EndpointURL     string `yaml:"endpoint_url,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

func (c *UploadConfig) applyDefaults() {
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

// Validate checks the upload configuration.
func (c *UploadConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.S3.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}

	return nil
}
