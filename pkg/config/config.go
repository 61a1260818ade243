package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/openai/openai-go/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxTokens        = 1024
	DefaultTemperature      = 0.7
	DefaultMaxFunctionCalls = 3
	DefaultLogLevel         = "info"
)

// DefaultModel is the model used when none is configured.
var DefaultModel = string(openai.ChatModelGPT4o)

// DefaultModels is the preset list offered by the models picker.
var DefaultModels = []string{
	string(openai.ChatModelGPT4o),
	string(openai.ChatModelGPT4oMini),
	string(openai.ChatModelGPT4Turbo),
	string(openai.ChatModelGPT3_5Turbo),
}

// FunctionConfig declares a function the model may call and the plugin
// endpoint that serves it.
type FunctionConfig struct {
	Name        string         `yaml:"name" validate:"required"`
	Description string         `yaml:"description,omitempty"`
	Endpoint    string         `yaml:"endpoint" validate:"required,startswith=/"`
	Parameters  map[string]any `yaml:"parameters,omitempty"`
}

type Config struct {
	Model            string           `yaml:"model,omitempty" validate:"required"`
	APIKey           string           `yaml:"apiKey,omitempty"`
	BaseURL          string           `yaml:"baseURL,omitempty" validate:"omitempty,url"`
	MaxTokens        int              `yaml:"maxTokens,omitempty" validate:"gte=0"`
	Temperature      float64          `yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	SystemPrompt     string           `yaml:"systemPrompt,omitempty"`
	PluginServerURL  string           `yaml:"pluginServerURL,omitempty" validate:"omitempty,url"`
	Functions        []FunctionConfig `yaml:"functions,omitempty" validate:"dive"`
	MaxFunctionCalls int              `yaml:"maxFunctionCalls,omitempty" validate:"gte=0,lte=20"`
	Models           []string         `yaml:"models,omitempty"`
	LogLevel         string           `yaml:"logLevel,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`

	path string
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		Model:            DefaultModel,
		MaxTokens:        DefaultMaxTokens,
		Temperature:      DefaultTemperature,
		MaxFunctionCalls: DefaultMaxFunctionCalls,
		Models:           append([]string(nil), DefaultModels...),
		LogLevel:         DefaultLogLevel,
	}
}

// DefaultPath returns ~/.config/<binary>/config.yaml.
func DefaultPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to determine executable path: %w", err)
	}
	binaryName := filepath.Base(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", binaryName, "config.yaml"), nil
}

func LoadOrCreateConfig() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadOrCreateConfigAt(path)
}

// LoadOrCreateConfigAt reads the config at path, writing the defaults there
// first if the file does not exist.
func LoadOrCreateConfigAt(path string) (*Config, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.path = path
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.path = path
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (cfg *Config) Path() string { return cfg.path }

// Save writes the config back to the file it was loaded from.
func (cfg *Config) Save() error {
	if cfg.path == "" {
		return fmt.Errorf("config has no file path")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(cfg.path, data, 0o600)
}

func ResolveAPIKey(flagVal, envVar, configVal string) (string, error) {
	if strings.TrimSpace(flagVal) != "" {
		return strings.TrimSpace(flagVal), nil
	}
	if envVal := os.Getenv(envVar); strings.TrimSpace(envVal) != "" {
		return strings.TrimSpace(envVal), nil
	}
	if strings.TrimSpace(configVal) != "" {
		return strings.TrimSpace(configVal), nil
	}

	return "", fmt.Errorf("API key is required. Provide via flag, %s environment variable, or config", envVar)
}

func (cfg *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	seen := map[string]bool{}
	for _, fn := range cfg.Functions {
		if seen[fn.Name] {
			return fmt.Errorf("config validation failed: duplicate function %q", fn.Name)
		}
		seen[fn.Name] = true
	}
	if len(cfg.Functions) > 0 && strings.TrimSpace(cfg.PluginServerURL) == "" {
		return fmt.Errorf("config validation failed: functions require pluginServerURL")
	}
	return nil
}
