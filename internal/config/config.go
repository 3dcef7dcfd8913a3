// Package config provides configuration management for sojourn using Viper
// for loading from files, environment variables and command-line flags.
//
// Settings come from .sojourn.yml (or the file named by --config or
// SOJOURN_CONFIG_FILE) with SOJOURN_ prefixed environment overrides such as
// SOJOURN_RENDER_SOFT_LIMIT. They cover where bundles live, how renders
// flush, which delegate packages are active, CSS and XID renaming, the
// preview server, and logging.
package config

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/render"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOJOURN"

// Defaults.
const (
	DefaultSoftLimit = 4096
	DefaultHost      = "localhost"
	DefaultPort      = 8080
)

type Config struct {
	Bundle    BundleConfig    `mapstructure:"bundle" yaml:"bundle"`
	Render    RenderConfig    `mapstructure:"render" yaml:"render"`
	Delegates DelegatesConfig `mapstructure:"delegates" yaml:"delegates"`
	Renaming  RenamingConfig  `mapstructure:"renaming" yaml:"renaming"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type BundleConfig struct {
	// Paths are bundle files or directories searched for *.yaml bundles.
	Paths []string `mapstructure:"paths" yaml:"paths"`
}

type RenderConfig struct {
	// SoftLimit is the buffered byte count at which renders yield to flush.
	SoftLimit int  `mapstructure:"soft_limit" yaml:"soft_limit"`
	DebugInfo bool `mapstructure:"debug_info" yaml:"debug_info"`
}

type DelegatesConfig struct {
	// Active lists the delegate packages whose implementations may be
	// selected. The default package is always active.
	Active []string `mapstructure:"active" yaml:"active"`
}

// RenamingConfig holds the css() and xid() renaming maps. Viper folds map
// keys to lower case, so mapped names are matched case-insensitively only
// when written in lower case in templates.
type RenamingConfig struct {
	CSS map[string]string `mapstructure:"css" yaml:"css"`
	XID map[string]string `mapstructure:"xid" yaml:"xid"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bundle.paths", []string{"."})
	v.SetDefault("render.soft_limit", DefaultSoftLimit)
	v.SetDefault("render.debug_info", false)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Setup points v at the config file and the SOJOURN_ environment. An
// explicit file wins over SOJOURN_CONFIG_FILE, which wins over
// ./.sojourn.yml.
func Setup(v *viper.Viper, file string) {
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".sojourn")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, configError("", err.Error())
	}

	// Env overrides arrive as a single string.
	if v.IsSet("bundle.paths") {
		config.Bundle.Paths = splitList(v.GetStringSlice("bundle.paths"))
	}
	if v.IsSet("delegates.active") {
		config.Delegates.Active = splitList(v.GetStringSlice("delegates.active"))
	}

	result := Validate(&config)
	if result.HasErrors() {
		return nil, result.Err()
	}
	return &config, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// RenderContext builds the render environment described by the
// configuration.
func (c *Config) RenderContext() render.Context {
	rc := render.Context{
		CSSRenaming: c.Renaming.CSS,
		XIDRenaming: c.Renaming.XID,
		DebugInfo:   c.Render.DebugInfo,
	}
	if len(c.Delegates.Active) > 0 {
		active := make(map[string]bool, len(c.Delegates.Active))
		for _, pkg := range c.Delegates.Active {
			active[pkg] = true
		}
		rc.ActiveDelegatePackage = func(pkg string) bool { return active[pkg] }
	}
	return rc
}

// NewLogger builds the configured logger writing to out.
func (c *Config) NewLogger(out io.Writer) (*logging.SojournLogger, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, configError("log.level", err.Error())
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: c.Log.Format,
		Output: out,
	}), nil
}
