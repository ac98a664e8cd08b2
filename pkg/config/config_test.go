package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Addr    string        `split_words:"true" default:":8080"`
	APIKey  string        `envconfig:"API_KEY" validate:"required"`
	Timeout time.Duration `split_words:"true" default:"15s" validate:"gt=0"`
}

func TestNewLoadsPrefixedEnvironment(t *testing.T) {
	t.Setenv("SAMPLE_API_KEY", "secret")
	t.Setenv("SAMPLE_TIMEOUT", "3s")

	conf, err := New[sampleConfig]("SAMPLE")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.APIKey != "secret" {
		t.Fatalf("APIKey = %q, want secret", conf.APIKey)
	}
	if conf.Timeout != 3*time.Second {
		t.Fatalf("Timeout = %v, want 3s", conf.Timeout)
	}
	if conf.Addr != ":8080" {
		t.Fatalf("Addr = %q, want default", conf.Addr)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Setenv("BROKEN_API_KEY", "")

	if _, err := New[sampleConfig]("BROKEN"); err == nil {
		t.Fatal("expected validation error for missing api key")
	}
}

func TestExportEnvironmentKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("EXPORT_ONE=file\nEXPORT_TWO=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("EXPORT_ONE", "process")
	t.Setenv("EXPORT_TWO", "")
	os.Unsetenv("EXPORT_TWO")

	if err := exportEnvironment(path); err != nil {
		t.Fatalf("exportEnvironment() error = %v", err)
	}
	if got := os.Getenv("EXPORT_ONE"); got != "process" {
		t.Fatalf("EXPORT_ONE = %q, want process", got)
	}
	if got := os.Getenv("EXPORT_TWO"); got != "file" {
		t.Fatalf("EXPORT_TWO = %q, want file", got)
	}
}
