// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package conf

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"github.com/tesseralabs/arbiter/cmd/genericconf"
	"github.com/tesseralabs/arbiter/oracle"
	"github.com/tesseralabs/arbiter/util/rpcclient"
)

type ParentChainConfig struct {
	ID                 uint64                   `koanf:"id"`
	URL                string                   `koanf:"url"`
	ConnectionAttempts int                      `koanf:"connection-attempts"`
	Factory            string                   `koanf:"factory"`
	Wallet             genericconf.WalletConfig `koanf:"wallet"`
}

var L1ConfigDefault = ParentChainConfig{
	ID:                 0,
	URL:                "",
	ConnectionAttempts: 15,
	Factory:            "",
	Wallet:             DefaultL1WalletConfig,
}

var DefaultL1WalletConfig = genericconf.WalletConfig{
	Pathname:      "wallet",
	Password:      genericconf.WalletConfigDefault.Password,
	PrivateKey:    genericconf.WalletConfigDefault.PrivateKey,
	Account:       genericconf.WalletConfigDefault.Account,
	OnlyCreateKey: genericconf.WalletConfigDefault.OnlyCreateKey,
}

func L1ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".id", L1ConfigDefault.ID, "if set other than 0, will be used to validate the parent chain connection")
	f.String(prefix+".url", L1ConfigDefault.URL, "parent chain ethereum node RPC URL")
	f.Int(prefix+".connection-attempts", L1ConfigDefault.ConnectionAttempts, "parent chain RPC connection attempts (spaced 1 second apart, 0 to retry infinitely)")
	f.String(prefix+".factory", L1ConfigDefault.Factory, "address of the dispute game factory contract")
	genericconf.WalletConfigAddOptions(prefix+".wallet", f, DefaultL1WalletConfig.Pathname)
}

func (c *ParentChainConfig) Validate() error {
	if c.URL == "" {
		return errors.New("empty parent-chain.url")
	}
	if c.Factory == "" {
		return errors.New("empty parent-chain.factory")
	}
	if !common.IsHexAddress(c.Factory) {
		return fmt.Errorf("invalid dispute game factory address %q", c.Factory)
	}
	return nil
}

func (c *ParentChainConfig) ResolveDirectoryNames(chain string) {
	c.Wallet.ResolveDirectoryNames(chain)
}

type RollupConfig struct {
	Connection rpcclient.ClientConfig `koanf:"connection" reload:"hot"`
	Cache      oracle.CacheConfig     `koanf:"cache"`
}

var RollupConnectionConfigDefault = rpcclient.ClientConfig{
	URL:            "",
	Retries:        2,
	Timeout:        time.Minute,
	ConnectionWait: time.Minute,
	ArgLogLimit:    2048,
}

var RollupConfigDefault = RollupConfig{
	Connection: RollupConnectionConfigDefault,
	Cache:      oracle.DefaultCacheConfig,
}

func RollupConfigAddOptions(prefix string, f *flag.FlagSet) {
	rpcclient.RPCClientAddOptions(prefix+".connection", f, &RollupConfigDefault.Connection)
	oracle.CacheConfigAddOptions(prefix+".cache", f)
}
