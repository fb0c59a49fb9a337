// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package conf

import (
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

type PersistentConfig struct {
	GlobalConfig string `koanf:"global-config"`
	Chain        string `koanf:"chain"`
	LogDir       string `koanf:"log-dir"`
}

var PersistentConfigDefault = PersistentConfig{
	GlobalConfig: ".arbiter",
	Chain:        "",
	LogDir:       "",
}

func PersistentConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".global-config", PersistentConfigDefault.GlobalConfig, "directory to store global config")
	f.String(prefix+".chain", PersistentConfigDefault.Chain, "directory to store chain state")
	f.String(prefix+".log-dir", PersistentConfigDefault.LogDir, "directory to store log file")
}

func (c *PersistentConfig) ResolveDirectoryNames() error {
	// Sanity Check
	if c.Chain == "" {
		return errors.New("--persistent.chain not specified")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return errors.Wrap(err, "Unable to read users home directory")
	}

	// Make persistent storage directory relative to home directory if not already absolute
	if !filepath.IsAbs(c.GlobalConfig) {
		c.GlobalConfig = path.Join(homeDir, c.GlobalConfig)
	}
	err = os.MkdirAll(c.GlobalConfig, os.ModePerm)
	if err != nil {
		return errors.Wrap(err, "Unable to create global configuration directory")
	}

	// Make chain directory relative to persistent storage directory if not already absolute
	if !filepath.IsAbs(c.Chain) {
		c.Chain = path.Join(c.GlobalConfig, c.Chain)
	}
	err = os.MkdirAll(c.Chain, os.ModePerm)
	if err != nil {
		return errors.Wrap(err, "Unable to create chain directory")
	}
	if DatabaseInDirectory(c.Chain) {
		return errors.Errorf("Database in --persistent.chain (%s) directory, try specifying parent directory", c.Chain)
	}

	// Make log directory relative to chain directory if not already absolute
	if !filepath.IsAbs(c.LogDir) {
		c.LogDir = path.Join(c.Chain, c.LogDir)
	}
	if c.LogDir != c.Chain {
		err = os.MkdirAll(c.LogDir, os.ModePerm)
		if err != nil {
			return errors.Wrap(err, "Unable to create log directory")
		}
		if DatabaseInDirectory(c.LogDir) {
			return errors.Errorf("Database in --persistent.log-dir (%s) directory, try specifying parent directory", c.LogDir)
		}
	}

	return nil
}

func DatabaseInDirectory(path string) bool {
	// Consider database present if file `CURRENT` in directory
	_, err := os.Stat(path + "/CURRENT")

	return err == nil
}
