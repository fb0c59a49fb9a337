package a

import "flag"

type Config struct {
	L2Block    uint64 `koanf:"l2-block"`
	ChainName  string `koanf:"chain"` // want `field name: "ChainName" doesn't match tag name: "chain"`
	MaxRetries int    `koanf:"max-retries"`
}

var DefaultConfig = Config{}

func ConfigAddOptions(prefix string, f *flag.FlagSet) { // want `koanf tag name: "l2-blocks" doesn't match the field: "L2Block"`
	f.Uint64(prefix+".l2-blocks", DefaultConfig.L2Block, "")
	f.String(prefix+".chain-name", DefaultConfig.ChainName, "")
}

func RetriesAddOptions(prefix string, f *flag.FlagSet) { // want `koanf tag name: "retries" doesn't match the field: "MaxRetries"`
	f.Int(prefix+".retries", DefaultConfig.MaxRetries, "")
}

func init() {
	_ = DefaultConfig.L2Block
	_ = DefaultConfig.ChainName
	_ = DefaultConfig.MaxRetries
}
