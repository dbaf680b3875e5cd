package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jRPC "github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/mertksk/accelerate/casperman"
	"github.com/mertksk/accelerate/log"
	"github.com/mertksk/accelerate/sequencer"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	// FlagCfg is the flag for cfg
	FlagCfg = "cfg"
	// FlagComponents is the flag for components
	FlagComponents = "components"
	// FlagSaveConfigPath is the flag to save the final configuration file
	FlagSaveConfigPath = "save-config-path"

	// EnvVarPrefix is the prefix of the environment overrides, e.g.
	// ACCELERATE_SEQUENCER_TICKINTERVAL
	EnvVarPrefix = "ACCELERATE"
	// ConfigType is the format of the config file
	ConfigType = "toml"
	// SaveConfigFileName is the name of the rendered config file
	SaveConfigFileName = "accelerate_config.toml"

	// DefaultCreationFilePermissions is the permissions of the rendered config file
	DefaultCreationFilePermissions = os.FileMode(0600)
)

// Config represents the configuration of the entire accelerate node, loaded
// from a TOML file merged over the defaults
type Config struct {
	// Configure log level for all the services, allow also to store the logs in a file
	Log log.Config

	// Configuration of the sequencer pipeline (mempool, prover, settlement nested)
	Sequencer sequencer.Config

	// Configuration of the Casper base layer client
	Casperman casperman.Config

	// RPC is the config for the JSON-RPC server
	RPC jRPC.Config
}

// Load loads the configuration from the file referenced by the cli context
func Load(ctx *cli.Context) (*Config, error) {
	cfg, err := LoadFile(ctx.String(FlagCfg))
	if err != nil {
		return nil, err
	}

	if saveConfigPath := ctx.String(FlagSaveConfigPath); saveConfigPath != "" {
		if err := Save(cfg, filepath.Join(saveConfigPath, SaveConfigFileName)); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadFile loads the configuration merging, in order: defaults, the given
// TOML file (optional) and the ACCELERATE_ environment overrides
func LoadFile(configFilePath string) (*Config, error) {
	viper.Reset()
	viper.SetConfigType(ConfigType)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix(EnvVarPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadConfig(bytes.NewBufferString(DefaultValues)); err != nil {
		return nil, fmt.Errorf("error reading the default config: %w", err)
	}

	if configFilePath != "" {
		content, err := os.ReadFile(configFilePath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFilePath, err)
		}
		if err := viper.MergeConfig(bytes.NewBuffer(content)); err != nil {
			return nil, fmt.Errorf("error merging config file %s: %w", configFilePath, err)
		}
	}

	return unmarshal()
}

// LoadFileFromString loads the configuration from TOML content, on top of the
// defaults. Used by tests and tooling.
func LoadFileFromString(configFileData string, configType string) (*Config, error) {
	viper.Reset()
	viper.SetConfigType(configType)

	if err := viper.ReadConfig(bytes.NewBufferString(DefaultValues)); err != nil {
		return nil, fmt.Errorf("error reading the default config: %w", err)
	}
	if err := viper.MergeConfig(bytes.NewBufferString(configFileData)); err != nil {
		return nil, fmt.Errorf("error merging config: %w", err)
	}

	return unmarshal()
}

func unmarshal() (*Config, error) {
	cfg := &Config{}
	decodeHooks := []viper.DecoderConfigOption{
		// this allows arrays to be decoded from env var separated by ",", example: MY_VAR="value1,value2,value3"
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(), mapstructure.StringToSliceHookFunc(","))),
	}
	if err := viper.Unmarshal(cfg, decodeHooks...); err != nil {
		return nil, fmt.Errorf("error unmarshalling the config: %w", err)
	}
	return cfg, nil
}

// Save renders the effective configuration to a TOML file
func Save(cfg *Config, path string) error {
	rendered, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error rendering the config: %w", err)
	}
	if err := os.WriteFile(path, rendered, DefaultCreationFilePermissions); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}
