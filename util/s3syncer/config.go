// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package s3syncer

import (
	"errors"
	"time"

	flag "github.com/spf13/pflag"
)

type Config struct {
	Enable       bool          `koanf:"enable"`
	AccessKey    string        `koanf:"access-key"`
	SecretKey    string        `koanf:"secret-key"`
	Region       string        `koanf:"region"`
	Bucket       string        `koanf:"bucket"`
	ObjectKey    string        `koanf:"object-key"`
	SyncInterval time.Duration `koanf:"sync-interval"`
}

var DefaultConfig = Config{
	Enable:       false,
	SyncInterval: time.Minute,
}

func (c *Config) Validate() error {
	if !c.Enable {
		return nil
	}
	if c.Bucket == "" || c.ObjectKey == "" {
		return errors.New("s3 sync requires both a bucket and an object key")
	}
	return nil
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultConfig.Enable, "enable syncing from an S3 object")
	f.String(prefix+".access-key", DefaultConfig.AccessKey, "S3 access key")
	f.String(prefix+".secret-key", DefaultConfig.SecretKey, "S3 secret key")
	f.String(prefix+".region", DefaultConfig.Region, "S3 region")
	f.String(prefix+".bucket", DefaultConfig.Bucket, "S3 bucket")
	f.String(prefix+".object-key", DefaultConfig.ObjectKey, "S3 object key")
	f.Duration(prefix+".sync-interval", DefaultConfig.SyncInterval, "how often to check the object for changes")
}

// DownloadConfig tunes the S3 download manager.
type DownloadConfig struct {
	PartSizeMB         int
	PartBodyMaxRetries int
	Concurrency        int
}

func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		PartSizeMB:         16,
		PartBodyMaxRetries: 3,
		Concurrency:        5,
	}
}
