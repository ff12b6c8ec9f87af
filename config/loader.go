package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "shapekit"
	configType = "yaml"
	envPrefix  = "SHAPEKIT"
)

// Load reads configuration from path, environment and defaults. An empty
// path searches ./shapekit.yaml and $HOME/shapekit.yaml; a missing file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("tenancy.tenant_id_field", d.Tenancy.TenantIDField)

	v.SetDefault("storage.index_prefix", d.Storage.IndexPrefix)
	v.SetDefault("storage.sink", d.Storage.Sink)

	v.SetDefault("limits.max_depth", d.Limits.MaxDepth)
	v.SetDefault("limits.max_bytes", d.Limits.MaxBytes)
	v.SetDefault("limits.reject_duplicate_keys", d.Limits.RejectDuplicateKeys)

	v.SetDefault("bulk.max_items", d.Bulk.MaxItems)
	v.SetDefault("bulk.flush_interval", d.Bulk.FlushInterval)
	v.SetDefault("bulk.close_timeout", d.Bulk.CloseTimeout)
	v.SetDefault("bulk.shutdown_timeout", d.Bulk.ShutdownTimeout)

	v.SetDefault("dynamo.table", d.Dynamo.Table)
	v.SetDefault("dynamo.region", d.Dynamo.Region)
	v.SetDefault("dynamo.endpoint", d.Dynamo.Endpoint)
	v.SetDefault("dynamo.max_attempts", d.Dynamo.MaxAttempts)
	v.SetDefault("dynamo.expand_body", d.Dynamo.ExpandBody)

	v.SetDefault("file.dir", d.File.Dir)

	v.SetDefault("openapi.base_path", d.OpenAPI.BasePath)
	v.SetDefault("openapi.security", d.OpenAPI.Security)
	v.SetDefault("openapi.version", d.OpenAPI.Version)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
