package config

import "time"

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "localhost:8080"
	}
	if cfg.Server.BaseURI == "" {
		cfg.Server.BaseURI = "/"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Backend.Type == "" {
		cfg.Backend.Type = "memory"
	}
	if cfg.Properties.Type == "" {
		cfg.Properties.Type = "memory"
	}

	if cfg.Auth.Realm == "" {
		cfg.Auth.Realm = "libdav"
	}
	if cfg.CalDAV.MaxOccurrences == 0 {
		cfg.CalDAV.MaxOccurrences = 10000
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
