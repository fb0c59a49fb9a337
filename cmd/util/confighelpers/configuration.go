// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package confighelpers

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/s3"
	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"
)

var ErrVersion = errors.New("configuration option version specified")

// Embedded by the build system via ldflags, otherwise vcs build info is used.
var version = ""
var datetime = ""

func GetVersion() (string, string) {
	vcsRevision := "development"
	vcsTime := "development"
	if version != "" {
		vcsRevision = version
	}
	if datetime != "" {
		vcsTime = datetime
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return vcsRevision, vcsTime
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && version == "" {
			vcsRevision = setting.Value
		}
		if setting.Key == "vcs.time" && datetime == "" {
			vcsTime = setting.Value
		}
	}
	return vcsRevision, vcsTime
}

func PrintErrorAndExit(err error, usage func(string)) {
	vcsRevision, vcsTime := GetVersion()
	fmt.Printf("Version: %v, time: %v\n", vcsRevision, vcsTime)
	if err != nil && errors.Is(err, ErrVersion) {
		// Already printed version, just exit
		os.Exit(0)
	}
	usage(os.Args[0])
	if err != nil {
		fmt.Printf("%s\n", err.Error())
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func BeginCommonParse(f *flag.FlagSet, args []string) (*koanf.Koanf, error) {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return nil, ErrVersion
		}
	}
	if err := f.Parse(args); err != nil {
		return nil, err
	}

	if f.NArg() != 0 {
		// Unexpected number of parameters
		return nil, errors.New("unexpected number of parameters")
	}

	var k = koanf.New(".")

	// Load defaults that are not specified on command line
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("error loading command line config: %w", err)
	}

	return k, nil
}

func ApplyOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	// Apply command line options and environment variables
	if err := applyOverrideOverrides(f, k); err != nil {
		return err
	}

	// Load configuration file from S3 if setup
	if len(k.String("conf.s3.secret-key")) != 0 {
		if err := loadS3Variables(k); err != nil {
			return fmt.Errorf("error loading S3 settings: %w", err)
		}

		if err := applyOverrideOverrides(f, k); err != nil {
			return err
		}
	}

	// Local config file overrides S3 config file
	configFiles := k.Strings("conf.file")
	for _, configFile := range configFiles {
		if len(configFile) > 0 {
			if err := k.Load(file.Provider(configFile), json.Parser()); err != nil {
				return fmt.Errorf("error loading local config file: %w", err)
			}

			if err := applyOverrideOverrides(f, k); err != nil {
				return err
			}
		}
	}

	// Config string overrides any config file
	configString := k.String("conf.string")
	if len(configString) > 0 {
		if err := k.Load(rawbytes.Provider([]byte(configString)), json.Parser()); err != nil {
			return fmt.Errorf("error loading config string config: %w", err)
		}

		if err := applyOverrideOverrides(f, k); err != nil {
			return err
		}
	}

	return nil
}

// applyOverrideOverrides for configs that need to change order of priority
func applyOverrideOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	// Command line overrides config file or config string
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return fmt.Errorf("error loading command line config: %w", err)
	}

	// Environment variables overrides config files or command line options
	if err := applyEnvironmentVariables(k); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}

	return nil
}

func applyEnvironmentVariables(k *koanf.Koanf) error {
	envPrefix := k.String("conf.env-prefix")
	if len(envPrefix) != 0 {
		return k.Load(env.Provider(envPrefix+"_", ".", func(s string) string {
			// FOO__BAR -> foo-bar to handle dash in config names
			s = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix+"_")), "__", "-")
			return strings.ReplaceAll(s, "_", ".")
		}), nil)
	}

	return nil
}

func loadS3Variables(k *koanf.Koanf) error {
	return k.Load(s3.Provider(s3.Config{
		AccessKey: k.String("conf.s3.access-key"),
		SecretKey: k.String("conf.s3.secret-key"),
		Region:    k.String("conf.s3.region"),
		Bucket:    k.String("conf.s3.bucket"),
		ObjectKey: k.String("conf.s3.object-key"),
	}), nil)
}

func EndCommonParse(k *koanf.Koanf, config interface{}) error {
	decoderConfig := mapstructure.DecoderConfig{
		ErrorUnused: true,

		// Default values
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc()),
		Result:           config,
		WeaklyTypedInput: true,
	}
	err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{DecoderConfig: &decoderConfig})
	if err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	return nil
}

func DumpConfig(k *koanf.Koanf, extraOverrideFields map[string]interface{}) error {
	overrideFields := map[string]interface{}{"conf.dump": false}

	for fieldKey, value := range extraOverrideFields {
		overrideFields[fieldKey] = value
	}

	// Don't keep printing configuration file and don't print wallet passwords
	err := k.Load(confmap.Provider(overrideFields, "."), nil)
	if err != nil {
		return fmt.Errorf("error removing extra parameters before dump: %w", err)
	}

	c, err := k.Marshal(json.Parser())
	if err != nil {
		return fmt.Errorf("unable to marshal config file to JSON: %w", err)
	}

	fmt.Println(string(c))
	os.Exit(0)
	return fmt.Errorf("Unexpected state after config dump")
}
