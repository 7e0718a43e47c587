package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/feedloader/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool

	// Buckets owned by the pipeline. Feed holds uploaded source files and
	// the EOF trigger objects, Completed the per-file ingestion
	// confirmations, Lock the EOF.lock marker, Retrigger the reprocess
	// trigger for missing files, Monitor the downstream completion
	// trigger, and Archive the per-run copies of consumed feed files.
	BucketFeed      string
	BucketCompleted string
	BucketLock      string
	BucketRetrigger string
	BucketMonitor   string
	BucketArchive   string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("FEEDLOADER_STORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:        env.String("FEEDLOADER_STORE_ENDPOINT", "localhost:9000"),
		AccessKey:       env.String("FEEDLOADER_STORE_ACCESS_KEY", "feedloader"),
		SecretKey:       env.String("FEEDLOADER_STORE_SECRET_KEY", "feedloaderstore"),
		Region:          env.String("FEEDLOADER_STORE_REGION", "us-east-1"),
		UseSSL:          useSSL,
		BucketFeed:      env.Bucket("FEED_BUCKET", "feed"),
		BucketCompleted: env.Bucket("COMPLETED_FILES_BUCKET", "feed-completed"),
		BucketLock:      env.Bucket("LOCK_BUCKET", "feed-lock"),
		BucketRetrigger: env.Bucket("RETRIGGER_BUCKET", "feed-retrigger"),
		BucketMonitor:   env.Bucket("TRIGGER_COMPLETION_BUCKET", "feed-monitor"),
		BucketArchive:   env.Bucket("ARCHIVE_BUCKET", "feed-archive"),
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
	for _, bucket := range []struct {
		name  string
		value string
	}{
		{"feed", c.BucketFeed},
		{"completed files", c.BucketCompleted},
		{"lock", c.BucketLock},
		{"retrigger", c.BucketRetrigger},
		{"monitor", c.BucketMonitor},
		{"archive", c.BucketArchive},
	} {
		if strings.TrimSpace(bucket.value) == "" {
			return fmt.Errorf("%s bucket is required", bucket.name)
		}
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
