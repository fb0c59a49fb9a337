// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tesseralabs/arbiter/cmd/conf"
	"github.com/tesseralabs/arbiter/cmd/genericconf"
	"github.com/tesseralabs/arbiter/cmd/util/confighelpers"
	"github.com/tesseralabs/arbiter/ledger"
	"github.com/tesseralabs/arbiter/proposer"
	"github.com/tesseralabs/arbiter/proving"
	"github.com/tesseralabs/arbiter/submitter"
	"github.com/tesseralabs/arbiter/util/colors"
	"github.com/tesseralabs/arbiter/util/headerreader"
	"github.com/tesseralabs/arbiter/validator"
)

type ArbiterConfig struct {
	Conf          genericconf.ConfConfig          `koanf:"conf" reload:"hot"`
	ParentChain   conf.ParentChainConfig          `koanf:"parent-chain"`
	Rollup        conf.RollupConfig               `koanf:"rollup" reload:"hot"`
	L1Reader      headerreader.Config             `koanf:"l1-reader" reload:"hot"`
	Watcher       ledger.WatcherConfig            `koanf:"watcher" reload:"hot"`
	Proposer      proposer.Config                 `koanf:"proposer" reload:"hot"`
	Validator     validator.Config                `koanf:"validator" reload:"hot"`
	Submitter     submitter.Config                `koanf:"submitter"`
	Proving       proving.Config                  `koanf:"proving"`
	LogLevel      string                          `koanf:"log-level" reload:"hot"`
	LogType       string                          `koanf:"log-type" reload:"hot"`
	FileLogging   genericconf.FileLoggingConfig   `koanf:"file-logging" reload:"hot"`
	Persistent    conf.PersistentConfig           `koanf:"persistent"`
	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`
	PProf         bool                            `koanf:"pprof"`
	PprofCfg      genericconf.PProf               `koanf:"pprof-cfg"`
}

var ArbiterConfigDefault = ArbiterConfig{
	Conf:          genericconf.ConfConfigDefault,
	ParentChain:   conf.L1ConfigDefault,
	Rollup:        conf.RollupConfigDefault,
	L1Reader:      headerreader.DefaultConfig,
	Watcher:       ledger.DefaultWatcherConfig,
	Proposer:      proposer.DefaultConfig,
	Validator:     validator.DefaultConfig,
	Submitter:     submitter.DefaultConfig,
	Proving:       proving.DefaultConfig,
	LogLevel:      "INFO",
	LogType:       "plaintext",
	FileLogging:   genericconf.DefaultFileLoggingConfig,
	Persistent:    conf.PersistentConfigDefault,
	Metrics:       false,
	MetricsServer: genericconf.MetricsServerConfigDefault,
	PProf:         false,
	PprofCfg:      genericconf.PProfDefault,
}

func ArbiterConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	conf.L1ConfigAddOptions("parent-chain", f)
	conf.RollupConfigAddOptions("rollup", f)
	headerreader.AddOptions("l1-reader", f)
	ledger.WatcherConfigAddOptions("watcher", f)
	proposer.ConfigAddOptions("proposer", f)
	validator.ConfigAddOptions("validator", f)
	submitter.ConfigAddOptions("submitter", f)
	proving.ConfigAddOptions("proving", f)
	f.String("log-level", ArbiterConfigDefault.LogLevel, "log level, valid values are CRIT, ERROR, WARN, INFO, DEBUG, TRACE")
	f.String("log-type", ArbiterConfigDefault.LogType, "log type (plaintext or json)")
	genericconf.FileLoggingConfigAddOptions("file-logging", f)
	conf.PersistentConfigAddOptions("persistent", f)
	f.Bool("metrics", ArbiterConfigDefault.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)
	f.Bool("pprof", ArbiterConfigDefault.PProf, "enable pprof")
	genericconf.PProfAddOptions("pprof-cfg", f)
}

func (c *ArbiterConfig) ShallowClone() *ArbiterConfig {
	config := &ArbiterConfig{}
	*config = *c
	return config
}

func (c *ArbiterConfig) CanReload(new *ArbiterConfig) error {
	var check func(node, other reflect.Value, path string)
	var err error

	check = func(node, other reflect.Value, path string) {
		if node.Kind() != reflect.Struct {
			return
		}

		for i := 0; i < node.NumField(); i++ {
			fieldTy := node.Type().Field(i)
			if !fieldTy.IsExported() {
				continue
			}
			hot := fieldTy.Tag.Get("reload") == "hot"
			dot := path + "." + fieldTy.Name

			first := node.Field(i).Interface()
			second := other.Field(i).Interface()

			if !hot && !reflect.DeepEqual(first, second) {
				err = fmt.Errorf("illegal change to %v%v%v", colors.Red, dot, colors.Clear)
			} else {
				check(node.Field(i), other.Field(i), dot)
			}
		}
	}

	check(reflect.ValueOf(*c), reflect.ValueOf(*new), "config")

	return err
}

func (c *ArbiterConfig) GetReloadInterval() time.Duration {
	return c.Conf.ReloadInterval
}

func (c *ArbiterConfig) Validate() error {
	if err := c.ParentChain.Validate(); err != nil {
		return err
	}
	if err := c.Validator.Validate(); err != nil {
		return err
	}
	if err := c.Submitter.Validate(); err != nil {
		return err
	}
	if c.validatorNeedsProofs() {
		if err := c.Proving.Validate(); err != nil {
			return err
		}
	}
	if (c.Proposer.Enable || c.Validator.Enable) && c.Rollup.Connection.URL == "" {
		return errors.New("--rollup.connection.url is required when the proposer or validator is enabled")
	}
	if (c.Proposer.Enable || c.Validator.Enable) && !c.Watcher.Enable {
		return errors.New("--watcher.enable is required when the proposer or validator is enabled")
	}
	return nil
}

// validatorNeedsProofs reports whether this configuration ever generates
// proofs. A watchtower only observes and needs no proof backend.
func (c *ArbiterConfig) validatorNeedsProofs() bool {
	return c.Validator.Enable && !strings.EqualFold(c.Validator.Mode, "watchtower")
}

func (c *ArbiterConfig) ResolveDirectoryNames() error {
	err := c.Persistent.ResolveDirectoryNames()
	if err != nil {
		return err
	}
	c.ParentChain.ResolveDirectoryNames(c.Persistent.Chain)
	if c.Proving.ArtifactDir != "" && !filepath.IsAbs(c.Proving.ArtifactDir) {
		c.Proving.ArtifactDir = path.Join(c.Persistent.Chain, c.Proving.ArtifactDir)
	}
	return nil
}

func ParseNode(ctx context.Context, args []string) (*ArbiterConfig, *genericconf.WalletConfig, error) {
	f := flag.NewFlagSet("", flag.ContinueOnError)

	ArbiterConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, nil, err
	}

	err = confighelpers.ApplyOverrides(f, k)
	if err != nil {
		return nil, nil, err
	}

	var nodeConfig ArbiterConfig
	if err := confighelpers.EndCommonParse(k, &nodeConfig); err != nil {
		return nil, nil, err
	}

	// Don't print wallet passwords
	if nodeConfig.Conf.Dump {
		err = confighelpers.DumpConfig(k, map[string]interface{}{
			"parent-chain.wallet.password":    "",
			"parent-chain.wallet.private-key": "",
		})
		if err != nil {
			return nil, nil, err
		}
	}

	// Don't pass around wallet contents with normal configuration
	l1Wallet := nodeConfig.ParentChain.Wallet
	nodeConfig.ParentChain.Wallet = genericconf.WalletConfigDefault

	err = nodeConfig.Validate()
	if err != nil {
		return nil, nil, err
	}
	return &nodeConfig, &l1Wallet, nil
}
