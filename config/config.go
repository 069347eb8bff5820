package config

import (
	"os"
	"regexp"

	"github.com/grovetools/statehub/errors"
	"github.com/grovetools/statehub/pkg/paths"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads and parses a statehub configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeConfigNotFound, "configuration file not found: "+path).
				WithDetail("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	return LoadFromBytes(data)
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// LoadDefault loads the configuration from the XDG config directory
// (~/.config/statehub/statehub.yml). A missing file is not an error;
// defaults apply.
func LoadDefault() (*Config, error) {
	path := paths.ConfigFilePath()
	if path == "" {
		cfg := &Config{}
		cfg.SetDefaults()
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &Config{}
		cfg.SetDefaults()
		return cfg, nil
	}

	return Load(path)
}

// LoadFromBytes parses configuration from raw YAML, expanding ${ENV_VAR}
// references before unmarshaling.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse config")
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigValidation, "config validation failed")
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} references with their environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRegex.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
