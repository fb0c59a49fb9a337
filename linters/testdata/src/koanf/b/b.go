package b

import (
	"flag"
	"fmt"
)

type AgentCfg struct {
	scan   ScanCfg   `koanf:"scan"`
	replay ReplayCfg `koanf:replay`
}

var defaultAgentCfg = AgentCfg{}

type ScanCfg struct {
	A bool `koanf:"A"`
	B bool `koanf:"B"`
	C bool `koanf:"C"`
	D bool `koanf:"D"` // want `field b.ScanCfg.D not used`
}

var defaultScanCfg = ScanCfg{}

func scanCfgAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".a", defaultScanCfg.A, "")
	f.Bool("b", defaultScanCfg.B, "")
	f.Bool("c", defaultScanCfg.C, "")
	f.Bool("d", defaultScanCfg.D, "")
}

type ReplayCfg struct {
	A int `koanf:"A"` // want `field b.ReplayCfg.A not used`
}

func (c *ReplayCfg) Do() {
}

func configPtr() *ScanCfg {
	return nil
}
func config() ScanCfg {
	return ScanCfg{}
}

func init() {
	fmt.Printf("%v %v", config().A, configPtr().B)
	// Covers usage of both `AgentCfg.scan` and `ScanCfg.C`.
	_ = defaultAgentCfg.scan.C
	// Covers usage of replay.
	defaultAgentCfg.replay.Do()
}
