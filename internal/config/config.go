// Package config loads embedsrv.yml and reconciles it against CLI
// flags: the YAML file supplies defaults, flags set on the command
// line always win. The loaded config is validated against a compiled-in
// CUE schema before use.
package config

import (
	stdlibErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueErrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration, loaded from embedsrv.yml
// and overlaid with CLI flags and environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig matches the 'server' section of embedsrv.yml.
type ServerConfig struct {
	Host          string   `yaml:"host" cue:"host"`
	Port          int      `yaml:"port" cue:"port"`
	ModelRepo     []string `yaml:"model_repo" cue:"model_repo"`
	ModelCacheDir string   `yaml:"model_cache_dir" cue:"model_cache_dir"`
}

// LogConfig matches the 'log' section of embedsrv.yml.
type LogConfig struct {
	Filter string `yaml:"filter" cue:"filter"`
}

// ErrUnknownField is returned when the config file carries a field the
// CUE schema doesn't declare.
type ErrUnknownField struct {
	Err error
}

func (e *ErrUnknownField) Error() string {
	return fmt.Sprintf("unknown field in configuration: %v", e.Err)
}

func (e *ErrUnknownField) Unwrap() error {
	return e.Err
}

// DefaultConfigPath is the default path for the configuration file.
const DefaultConfigPath = "embedsrv.yml"

// DefaultPort is the CLI's default --port, matching ServerConfig.Port's default.
const DefaultPort = 3000

// DefaultHost is the CLI's default --host.
const DefaultHost = "127.0.0.1"

// expandWithDefault expands a string like "${VAR:=default_value}" or
// "$VAR". If VAR is set, its value is used. Otherwise, default_value
// is used. Plain $VAR / ${VAR} without a default is handled by
// os.ExpandEnv.
var envVarWithDefaultRegex = regexp.MustCompile(`\$\{([^:}]+):=([^}]+)\}|\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}

func expandWithDefault(s string) string {
	result := envVarWithDefaultRegex.ReplaceAllStringFunc(s, func(match string) string {
		expandedSimple := os.ExpandEnv(match)
		if expandedSimple != match && expandedSimple != "" && !strings.Contains(expandedSimple, ":=") {
			return expandPath(expandedSimple)
		}

		parts := envVarWithDefaultRegex.FindStringSubmatch(match)
		var varName, defaultValue string

		if len(parts) > 2 && parts[1] != "" && parts[2] != "" { // ${VAR:=default} form
			varName = parts[1]
			defaultValue = parts[2]
		} else if len(parts) > 4 && (parts[3] != "" || parts[4] != "") { // ${VAR} or $VAR form
			varName = parts[3] + parts[4]
			val, _ := os.LookupEnv(varName)
			return expandPath(val)
		} else {
			return expandPath(match)
		}

		value, exists := os.LookupEnv(varName)
		if exists {
			return expandPath(value)
		}

		expandedDefaultValue := expandWithDefault(defaultValue)
		return expandPath(expandedDefaultValue)
	})
	return result
}

// Load reads configPath (if it exists) and validates it against the
// compiled-in CUE schema. A missing config file is not an error: the
// defaults plus CLI flags are enough to run the server.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	cfg := GetDefaultConfig()

	yamlData, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Server.ModelCacheDir = expandWithDefault(cfg.Server.ModelCacheDir)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(yamlData, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML data from %s: %w", configPath, err)
	}

	ctx := cuecontext.New()
	schemaVal := ctx.CompileBytes(embeddedCueSchema, cue.Filename("config_schema.cue"))
	if err := schemaVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile embedded CUE schema: %w", err)
	}

	cueVal := ctx.Encode(cfg)
	if err := cueVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode config struct to CUE value: %w", err)
	}

	configDef := schemaVal.LookupPath(cue.ParsePath("#Config"))
	if !configDef.Exists() {
		return nil, fmt.Errorf("#Config definition not found in embedded CUE schema")
	}

	instanceVal := configDef.Unify(cueVal)
	if err := checkUnknownField(instanceVal.Err(), configPath); err != nil {
		return nil, err
	}

	if err := checkUnknownField(instanceVal.Validate(cue.Concrete(true)), configPath); err != nil {
		return nil, err
	}

	cfg.Server.ModelCacheDir = expandWithDefault(cfg.Server.ModelCacheDir)

	return cfg, nil
}

func checkUnknownField(err error, configPath string) error {
	if err == nil {
		return nil
	}
	var cueErrList cueErrors.Error
	if stdlibErrors.As(err, &cueErrList) {
		for _, single := range cueErrors.Errors(cueErrList) {
			details := cueErrors.Details(single, nil)
			if strings.Contains(details, "field not allowed") || strings.Contains(details, "is not a field in") {
				return &ErrUnknownField{Err: err}
			}
		}
	}
	return fmt.Errorf("CUE validation failed for %s: %w", configPath, err)
}

// GetDefaultConfig returns a Config struct populated with this
// server's default host, port, and log filter.
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          DefaultHost,
			Port:          DefaultPort,
			ModelRepo:     nil,
			ModelCacheDir: "${EMBEDSRV_MODEL_DIR:=~/.cache/embedsrv}",
		},
		Log: LogConfig{
			Filter: "embedsrv=trace,gin=debug,reject=trace",
		},
	}
}

// WriteDefaultConfig writes the default configuration to the specified path.
func WriteDefaultConfig(configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	cfg := GetDefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory for config file %s: %w", configPath, err)
			}
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write default config to %s: %w", configPath, err)
	}
	return nil
}
