// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tesseralabs/arbiter/cmd/genericconf"
	"github.com/tesseralabs/arbiter/cmd/util/confighelpers"
	"github.com/tesseralabs/arbiter/proving"
	"github.com/tesseralabs/arbiter/pubsub"
)

type ProverConfig struct {
	Conf          genericconf.ConfConfig          `koanf:"conf"`
	RedisURL      string                          `koanf:"redis-url"`
	RedisStream   string                          `koanf:"redis-stream"`
	Consumer      pubsub.ConsumerConfig           `koanf:"consumer"`
	Workers       int                             `koanf:"workers"`
	IdleSleep     time.Duration                   `koanf:"idle-sleep"`
	Stub          proving.StubConfig              `koanf:"stub"`
	LogLevel      string                          `koanf:"log-level"`
	LogType       string                          `koanf:"log-type"`
	FileLogging   genericconf.FileLoggingConfig   `koanf:"file-logging"`
	LogDir        string                          `koanf:"log-dir"`
	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`
	PProf         bool                            `koanf:"pprof"`
	PprofCfg      genericconf.PProf               `koanf:"pprof-cfg"`
}

var ProverConfigDefault = ProverConfig{
	Conf:          genericconf.ConfConfigDefault,
	RedisStream:   proving.DefaultConfig.RedisStream,
	Consumer:      pubsub.DefaultConsumerConfig,
	Workers:       2,
	IdleSleep:     time.Second,
	Stub:          proving.DefaultStubConfig,
	LogLevel:      "INFO",
	LogType:       "plaintext",
	FileLogging:   genericconf.DefaultFileLoggingConfig,
	Metrics:       false,
	MetricsServer: genericconf.MetricsServerConfigDefault,
	PProf:         false,
	PprofCfg:      genericconf.PProfDefault,
}

func ProverConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	f.String("redis-url", ProverConfigDefault.RedisURL, "redis url the proof request stream lives on")
	f.String("redis-stream", ProverConfigDefault.RedisStream, "name of the proof request stream")
	pubsub.ConsumerConfigAddOptions("consumer", f)
	f.Int("workers", ProverConfigDefault.Workers, "number of requests proven concurrently")
	f.Duration("idle-sleep", ProverConfigDefault.IdleSleep, "how long a worker sleeps when the stream is empty")
	proving.StubConfigAddOptions("stub", f)
	f.String("log-level", ProverConfigDefault.LogLevel, "log level, valid values are CRIT, ERROR, WARN, INFO, DEBUG, TRACE")
	f.String("log-type", ProverConfigDefault.LogType, "log type (plaintext or json)")
	genericconf.FileLoggingConfigAddOptions("file-logging", f)
	f.String("log-dir", ProverConfigDefault.LogDir, "directory to place log files in")
	f.Bool("metrics", ProverConfigDefault.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)
	f.Bool("pprof", ProverConfigDefault.PProf, "enable pprof")
	genericconf.PProfAddOptions("pprof-cfg", f)
}

func (c *ProverConfig) Validate() error {
	if c.RedisURL == "" {
		return errors.New("--redis-url is required")
	}
	if c.RedisStream == "" {
		return errors.New("--redis-stream is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", c.Workers)
	}
	return nil
}

func ParseProver(ctx context.Context, args []string) (*ProverConfig, error) {
	f := flag.NewFlagSet("", flag.ContinueOnError)

	ProverConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}

	err = confighelpers.ApplyOverrides(f, k)
	if err != nil {
		return nil, err
	}

	var config ProverConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}

	if config.Conf.Dump {
		err = confighelpers.DumpConfig(k, map[string]interface{}{})
		if err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
