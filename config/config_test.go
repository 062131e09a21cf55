package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("GOVIEW_TEST_STR", "hello")
	t.Setenv("GOVIEW_TEST_INT", "7")
	t.Setenv("GOVIEW_TEST_FLOAT", "1.5")
	t.Setenv("GOVIEW_TEST_BOOL", "true")
	t.Setenv("GOVIEW_TEST_BAD_INT", "seven")

	if got := getEnv("GOVIEW_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("getEnv = %q, want hello", got)
	}
	if got := getEnv("GOVIEW_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv missing = %q, want fallback", got)
	}
	if got := getEnvInt("GOVIEW_TEST_INT", 1); got != 7 {
		t.Errorf("getEnvInt = %d, want 7", got)
	}
	if got := getEnvInt("GOVIEW_TEST_BAD_INT", 3); got != 3 {
		t.Errorf("getEnvInt with unparsable value = %d, want default 3", got)
	}
	if got := getEnvFloat("GOVIEW_TEST_FLOAT", 1); got != 1.5 {
		t.Errorf("getEnvFloat = %v, want 1.5", got)
	}
	if got := getEnvBool("GOVIEW_TEST_BOOL", false); got != true {
		t.Error("getEnvBool should parse true")
	}
}

func TestLoadRenderConfigDefaults(t *testing.T) {
	cfg := loadRenderConfig()
	if cfg.MaxConcurrency != 2 {
		t.Errorf("Default concurrency = %d, want 2", cfg.MaxConcurrency)
	}
	if cfg.MaxPagesAlive != 10 {
		t.Errorf("Default pages alive = %d, want 10", cfg.MaxPagesAlive)
	}
	if cfg.ZoomDelta != 0.4 {
		t.Errorf("Default zoom delta = %v, want 0.4", cfg.ZoomDelta)
	}
}

func TestLoadRenderConfigFromEnv(t *testing.T) {
	t.Setenv("RENDER_CONCURRENCY", "4")
	t.Setenv("RENDER_ROOT_MARGIN", "350.5")

	cfg := loadRenderConfig()
	if cfg.MaxConcurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.MaxConcurrency)
	}
	if cfg.RootMargin != 350.5 {
		t.Errorf("Root margin = %v, want 350.5", cfg.RootMargin)
	}
}

func TestApplyOverrides(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "goview.hujson")
	overrides := `{
		// local tweaks
		"Backend": "fitz",
		"MaxConcurrency": 3,
	}`
	if err := os.WriteFile(path, []byte(overrides), 0644); err != nil {
		t.Fatalf("Failed writing overrides file: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := ServerConfig{Backend: "pdfium", RenderConfig: loadRenderConfig()}
	if err := applyOverrides(&cfg, path, logger); err != nil {
		t.Fatalf("applyOverrides failed: %v", err)
	}

	if cfg.Backend != "fitz" {
		t.Errorf("Backend = %q, want fitz", cfg.Backend)
	}
	if cfg.MaxConcurrency != 3 {
		t.Errorf("MaxConcurrency = %d, want 3", cfg.MaxConcurrency)
	}
	if cfg.MaxPagesAlive != 10 {
		t.Errorf("Untouched field changed: MaxPagesAlive = %d", cfg.MaxPagesAlive)
	}
}

func TestApplyOverridesMissingFileIsFine(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := ServerConfig{}
	if err := applyOverrides(&cfg, filepath.Join(t.TempDir(), "absent.hujson"), logger); err != nil {
		t.Errorf("Missing overrides file should not error, got: %v", err)
	}
}

func TestApplyOverridesRejectsMalformedFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "broken.hujson")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed writing file: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := ServerConfig{}
	if err := applyOverrides(&cfg, path, logger); err == nil {
		t.Error("Expected error for malformed overrides file")
	}
}
