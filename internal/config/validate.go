package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would break the event hub or preflight checks are
// clamped to safe defaults; other problems are logged as warnings but do not
// prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.WorkerURL != "" {
		u, err := url.Parse(c.WorkerURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("worker_url %q is not a valid URL: %w", c.WorkerURL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("worker_url scheme must be ws or wss, got %q", u.Scheme))
		}
	}

	if c.CatalogURL != "" {
		u, err := url.Parse(c.CatalogURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("catalog_url %q is not a valid URL: %w", c.CatalogURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("catalog_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.EventBufferSize < 1 {
		errs = append(errs, fmt.Errorf("event_buffer_size %d is below minimum 1, clamping", c.EventBufferSize))
		c.EventBufferSize = 1
	} else if c.EventBufferSize > 4096 {
		errs = append(errs, fmt.Errorf("event_buffer_size %d exceeds maximum 4096, clamping", c.EventBufferSize))
		c.EventBufferSize = 4096
	}

	if c.MinFreeDiskGB < 0 {
		errs = append(errs, fmt.Errorf("min_free_disk_gb %.1f is negative, clamping to 0", c.MinFreeDiskGB))
		c.MinFreeDiskGB = 0
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
