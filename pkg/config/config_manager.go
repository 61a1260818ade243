package config

import (
	"reflect"
	"strings"
)

// ConfigManager handles merging CLI flags into the Config struct.
// Priority: CLI flags > Config file > Default values.
type ConfigManager struct {
	Config *Config
	Flags  map[string]any
}

// NewConfigManager creates a new ConfigManager instance.
func NewConfigManager(cfg *Config) *ConfigManager {
	return &ConfigManager{
		Config: cfg,
		Flags:  make(map[string]any),
	}
}

// RegisterFlag registers a CLI flag value under the YAML key of the field it
// overrides. Callers register only flags the user actually set, so a zero
// value such as --temperature 0 still wins over the file.
func (cm *ConfigManager) RegisterFlag(key string, value any) {
	cm.Flags[key] = value
}

// MergeConfiguration copies every registered flag value into the matching
// Config field.
func (cm *ConfigManager) MergeConfiguration() *Config {
	configValue := reflect.ValueOf(cm.Config).Elem()
	configType := configValue.Type()

	for i := 0; i < configType.NumField(); i++ {
		field := configType.Field(i)
		yamlTag := field.Tag.Get("yaml")
		if yamlTag == "" {
			continue
		}
		configFieldName := strings.Split(yamlTag, ",")[0]
		flagValue, exists := cm.Flags[configFieldName]
		if !exists || flagValue == nil {
			continue
		}
		fieldValue := configValue.Field(i)
		if !fieldValue.CanSet() {
			continue
		}
		flagVal := reflect.ValueOf(flagValue)
		if flagVal.Type().ConvertibleTo(fieldValue.Type()) {
			fieldValue.Set(flagVal.Convert(fieldValue.Type()))
		}
	}
	return cm.Config
}
