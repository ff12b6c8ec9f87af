// Package config loads service settings from a YAML file, SHAPEKIT_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/reoring/shapekit/apischema"
	"github.com/reoring/shapekit/bulk"
	"github.com/reoring/shapekit/bulk/dynamosink"
	"github.com/reoring/shapekit/upsert"
)

// Config is the top-level configuration. Field tags use mapstructure for
// viper unmarshalling.
type Config struct {
	Tenancy TenancyConfig `mapstructure:"tenancy"`
	Storage StorageConfig `mapstructure:"storage"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Bulk    BulkConfig    `mapstructure:"bulk"`
	Dynamo  DynamoConfig  `mapstructure:"dynamo"`
	File    FileConfig    `mapstructure:"file"`
	OpenAPI OpenAPIConfig `mapstructure:"openapi"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type TenancyConfig struct {
	// TenantIDField is injected into entities of shared multi-tenant shapes.
	TenantIDField string `mapstructure:"tenant_id_field"`
}

type StorageConfig struct {
	IndexPrefix string `mapstructure:"index_prefix"`
	// Sink selects the bulk sink: "file", "dynamodb" or "none".
	Sink string `mapstructure:"sink"`
}

type LimitsConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
	// MaxBytes is a human readable size such as "16MiB". Empty means no limit.
	MaxBytes            string `mapstructure:"max_bytes"`
	RejectDuplicateKeys bool   `mapstructure:"reject_duplicate_keys"`
}

type BulkConfig struct {
	MaxItems        int           `mapstructure:"max_items"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	CloseTimeout    time.Duration `mapstructure:"close_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DynamoConfig struct {
	Table       string `mapstructure:"table"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	ExpandBody  bool   `mapstructure:"expand_body"`
}

type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

type OpenAPIConfig struct {
	BasePath string `mapstructure:"base_path"`
	Security string `mapstructure:"security"`
	Version  string `mapstructure:"version"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Sink kinds.
const (
	SinkNone   = "none"
	SinkFile   = "file"
	SinkDynamo = "dynamodb"
)

// Default values.
const (
	DefaultTenantIDField = upsert.DefaultTenantIDField
	DefaultIndexPrefix   = "struct_"
	DefaultSink          = SinkNone
	DefaultFileDir       = "./data"
	DefaultBasePath      = "/api/"
	DefaultSecurity      = "none"
	DefaultAPIVersion    = "1.0"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultDynamoRetries = 5
)

var (
	// ErrEmptyTenantField indicates tenancy.tenant_id_field is blank.
	ErrEmptyTenantField = errors.New("tenancy.tenant_id_field must not be empty")
	// ErrInvalidSink indicates an unknown storage.sink.
	ErrInvalidSink = errors.New("storage.sink must be none, file or dynamodb")
	// ErrMissingTable indicates the dynamodb sink has no table.
	ErrMissingTable = errors.New("dynamo.table is required for the dynamodb sink")
	// ErrMissingDir indicates the file sink has no directory.
	ErrMissingDir = errors.New("file.dir is required for the file sink")
	// ErrInvalidMaxDepth indicates a negative limits.max_depth.
	ErrInvalidMaxDepth = errors.New("limits.max_depth must be non-negative")
	// ErrInvalidMaxBytes indicates limits.max_bytes does not parse.
	ErrInvalidMaxBytes = errors.New("limits.max_bytes is not a valid size")
	// ErrInvalidMaxItems indicates bulk.max_items is not positive.
	ErrInvalidMaxItems = errors.New("bulk.max_items must be positive")
	// ErrInvalidTimeout indicates a non-positive bulk timeout.
	ErrInvalidTimeout = errors.New("bulk timeouts must be positive")
	// ErrInvalidLogLevel indicates an unknown logging.level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
	// ErrInvalidLogFormat indicates an unknown logging.format.
	ErrInvalidLogFormat = errors.New("logging.format must be text or json")
)

// Default returns the configuration used when nothing is set.
func Default() Config {
	b := bulk.DefaultConfig()
	return Config{
		Tenancy: TenancyConfig{TenantIDField: DefaultTenantIDField},
		Storage: StorageConfig{IndexPrefix: DefaultIndexPrefix, Sink: DefaultSink},
		Bulk: BulkConfig{
			MaxItems:        b.MaxItems,
			FlushInterval:   b.FlushInterval,
			CloseTimeout:    b.CloseTimeout,
			ShutdownTimeout: b.ShutdownTimeout,
		},
		Dynamo:  DynamoConfig{MaxAttempts: DefaultDynamoRetries},
		File:    FileConfig{Dir: DefaultFileDir},
		OpenAPI: OpenAPIConfig{BasePath: DefaultBasePath, Security: DefaultSecurity, Version: DefaultAPIVersion},
		Logging: LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tenancy.TenantIDField) == "" {
		return ErrEmptyTenantField
	}
	switch c.Storage.Sink {
	case SinkNone:
	case SinkFile:
		if c.File.Dir == "" {
			return ErrMissingDir
		}
	case SinkDynamo:
		if c.Dynamo.Table == "" {
			return ErrMissingTable
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSink, c.Storage.Sink)
	}
	if c.Limits.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}
	if _, err := c.Limits.maxBytes(); err != nil {
		return err
	}
	if c.Bulk.MaxItems < 1 {
		return ErrInvalidMaxItems
	}
	if c.Bulk.CloseTimeout <= 0 || c.Bulk.ShutdownTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if _, err := apischema.ParseSecurityType(c.OpenAPI.Security); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

func (l LimitsConfig) maxBytes() (int64, error) {
	if l.MaxBytes == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(l.MaxBytes)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMaxBytes, err)
	}
	return int64(n), nil
}

// UpsertLimits converts the limits section. Call after Validate.
func (l LimitsConfig) UpsertLimits() upsert.Limits {
	n, _ := l.maxBytes()
	return upsert.Limits{MaxDepth: l.MaxDepth, MaxBytes: n, RejectDuplicateKeys: l.RejectDuplicateKeys}
}

// Manager converts the bulk section.
func (b BulkConfig) Manager() bulk.Config {
	return bulk.Config{
		MaxItems:        b.MaxItems,
		FlushInterval:   b.FlushInterval,
		CloseTimeout:    b.CloseTimeout,
		ShutdownTimeout: b.ShutdownTimeout,
	}
}

// Sink converts the dynamo section.
func (d DynamoConfig) Sink() dynamosink.Config {
	cfg := dynamosink.DefaultConfig()
	cfg.Table = d.Table
	if d.MaxAttempts > 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	cfg.ExpandBody = d.ExpandBody
	return cfg
}

// Options converts the openapi section. Call after Validate.
func (o OpenAPIConfig) Options() apischema.OpenAPIOptions {
	sec, _ := apischema.ParseSecurityType(o.Security)
	return apischema.OpenAPIOptions{BasePath: o.BasePath, Security: sec, Version: o.Version}
}
