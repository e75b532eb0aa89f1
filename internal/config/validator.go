package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks required fields and value ranges, reporting every problem at once.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	api := cfg.ResourceAPI
	if api.BaseURL == "" {
		errs = append(errs, "resource_api.base_url is required")
	} else if u, err := url.Parse(api.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("resource_api.base_url: %s", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Sprintf("resource_api.base_url %q: scheme must be http or https", api.BaseURL))
	} else if u.Host == "" {
		errs = append(errs, fmt.Sprintf("resource_api.base_url %q: host is required", api.BaseURL))
	}
	if api.TimeoutMs < 0 {
		errs = append(errs, "resource_api.timeout_ms must not be negative")
	}

	if cfg.Engine.Workers < 0 {
		errs = append(errs, "engine.workers must not be negative")
	}
	if cfg.Engine.QueueDepth < 0 {
		errs = append(errs, "engine.queue_depth must not be negative")
	}
	if cfg.Engine.EventTimeoutMs < 0 {
		errs = append(errs, "engine.event_timeout_ms must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
