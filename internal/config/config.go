// Package config loads the davserver configuration from a YAML or TOML
// file, with LIBDAV_ environment variables taking precedence.
package config

import (
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LIBDAV_SERVER_ADDR.
const EnvPrefix = "LIBDAV"

// Config is the whole server configuration.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Properties PropertiesConfig `mapstructure:"properties"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	ACL        ACLConfig        `mapstructure:"acl"`
	CalDAV     CalDAVConfig     `mapstructure:"caldav"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required,hostname_port"`
	BaseURI         string        `mapstructure:"base_uri" validate:"required,startswith=/"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
	DebugExceptions bool          `mapstructure:"debug_exceptions"`
}

// BackendConfig selects the node backend. Only the section named by Type
// is read; it is decoded on demand by Filesystem or S3.
type BackendConfig struct {
	Type       string         `mapstructure:"type" validate:"required,oneof=memory filesystem s3"`
	Filesystem map[string]any `mapstructure:"filesystem"`
	S3         map[string]any `mapstructure:"s3"`
}

type FilesystemOptions struct {
	Root string `mapstructure:"root" validate:"required"`
}

type S3Options struct {
	Bucket          string `mapstructure:"bucket" validate:"required"`
	Region          string `mapstructure:"region" validate:"required"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type PropertiesConfig struct {
	Type   string        `mapstructure:"type" validate:"required,oneof=memory badger"`
	Badger BadgerOptions `mapstructure:"badger"`
}

type BadgerOptions struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	// TTL of resolved tree nodes and recurrence expansions. Zero disables
	// both caches.
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type AuthConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Realm   string       `mapstructure:"realm"`
	Users   []UserConfig `mapstructure:"users" validate:"dive"`
}

type UserConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	// PasswordHash is a bcrypt hash.
	PasswordHash string `mapstructure:"password_hash" validate:"required"`
}

type ACLConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	AllowUnprotected bool `mapstructure:"allow_unprotected"`
}

type CalDAVConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Components     []string `mapstructure:"components" validate:"dive,oneof=VEVENT VTODO VJOURNAL VFREEBUSY"`
	MaxOccurrences int      `mapstructure:"max_occurrences" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"omitempty,startswith=/"`
}

// FilesystemOptions decodes the filesystem backend section.
func (b *BackendConfig) FilesystemOptions() (*FilesystemOptions, error) {
	var opts FilesystemOptions
	if err := decodeSection(b.Filesystem, &opts); err != nil {
		return nil, errors.Wrap(err, "backend.filesystem")
	}
	return &opts, nil
}

// S3Options decodes the s3 backend section.
func (b *BackendConfig) S3Options() (*S3Options, error) {
	var opts S3Options
	if err := decodeSection(b.S3, &opts); err != nil {
		return nil, errors.Wrap(err, "backend.s3")
	}
	return &opts, nil
}

func decodeSection(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return err
	}
	return validateStruct(out)
}

// envKeys are bound explicitly so that overrides work without a file
// mentioning them.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.addr", "server.base_uri", "server.shutdown_timeout", "server.debug_exceptions",
	"backend.type",
	"backend.filesystem.root",
	"backend.s3.bucket", "backend.s3.region", "backend.s3.endpoint", "backend.s3.prefix",
	"backend.s3.access_key_id", "backend.s3.secret_access_key", "backend.s3.use_path_style",
	"properties.type", "properties.badger.path",
	"cache.ttl",
	"auth.enabled", "auth.realm",
	"acl.enabled", "acl.allow_unprotected",
	"caldav.enabled", "caldav.max_occurrences",
	"metrics.enabled", "metrics.path",
}

// Load reads the configuration at path, applies environment overrides and
// defaults, and validates the result. An empty path uses defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, errors.Wrapf(err, "bind %s", k)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return &cfg, nil
}
