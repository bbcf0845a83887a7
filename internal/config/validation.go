package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New()

// Validate checks struct tags first, then the rules that span sections.
func Validate(cfg *Config) error {
	if err := validateStruct(cfg); err != nil {
		return err
	}
	return validateCustomRules(cfg)
}

func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func validateCustomRules(cfg *Config) error {
	if !strings.HasSuffix(cfg.Server.BaseURI, "/") {
		return fmt.Errorf("server.base_uri: must end with a slash, got %q", cfg.Server.BaseURI)
	}

	switch cfg.Backend.Type {
	case "filesystem":
		if _, err := cfg.Backend.FilesystemOptions(); err != nil {
			return err
		}
	case "s3":
		if _, err := cfg.Backend.S3Options(); err != nil {
			return err
		}
	}

	if cfg.Properties.Type == "badger" && cfg.Properties.Badger.Path == "" {
		return fmt.Errorf("properties.badger.path: required when properties.type is badger")
	}

	if cfg.Auth.Enabled && len(cfg.Auth.Users) == 0 {
		return fmt.Errorf("auth.users: at least one user is required when auth is enabled")
	}
	seen := make(map[string]bool)
	for i, u := range cfg.Auth.Users {
		if seen[u.Name] {
			return fmt.Errorf("auth.users[%d]: duplicate user %q", i, u.Name)
		}
		seen[u.Name] = true
	}

	if cfg.Metrics.Enabled && strings.HasPrefix(cfg.Metrics.Path, cfg.Server.BaseURI) && cfg.Server.BaseURI != "/" {
		return fmt.Errorf("metrics.path: %q must not lie below server.base_uri", cfg.Metrics.Path)
	}
	return nil
}

// formatValidationError reports the first failed field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
