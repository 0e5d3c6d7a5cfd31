package config

import (
	"net/url"
	"testing"
)

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("expected default config to validate cleanly, got %v", errs)
	}
}

func TestDefaultCatalogURLIsBareOrigin(t *testing.T) {
	// The catalog client appends the well-known endpoint paths itself, so
	// a path baked into the base URL would be doubled on the wire.
	u, err := url.Parse(Default().CatalogURL)
	if err != nil {
		t.Fatalf("parse default catalog URL: %v", err)
	}
	if u.Path != "" {
		t.Fatalf("expected bare origin, got path %q in %q", u.Path, u.String())
	}
}

func TestValidateRejectsBadWorkerScheme(t *testing.T) {
	cfg := Default()
	cfg.WorkerURL = "http://127.0.0.1:39700"

	errs := cfg.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
}

func TestValidateClampsEventBufferSize(t *testing.T) {
	cfg := Default()
	cfg.EventBufferSize = 0

	errs := cfg.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if cfg.EventBufferSize != 1 {
		t.Fatalf("expected buffer size clamped to 1, got %d", cfg.EventBufferSize)
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"

	errs := cfg.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
}

func TestValidateClampsNegativeDiskFloor(t *testing.T) {
	cfg := Default()
	cfg.MinFreeDiskGB = -1

	cfg.Validate()
	if cfg.MinFreeDiskGB != 0 {
		t.Fatalf("expected min_free_disk_gb clamped to 0, got %f", cfg.MinFreeDiskGB)
	}
}
