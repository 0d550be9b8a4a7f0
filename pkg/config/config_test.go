package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNewDefaultServerConfig(t *testing.T) {
	cfg := NewDefaultServerConfig()
	if cfg.UpstreamBaseURL != "https://api.openai.com" {
		t.Fatalf("upstream = %q", cfg.UpstreamBaseURL)
	}
	if !reflect.DeepEqual(cfg.RestrictedModels, []string{"o1-preview", "o1-mini"}) {
		t.Fatalf("restricted models = %v", cfg.RestrictedModels)
	}
	if len(cfg.UnsupportedParams) != 11 {
		t.Fatalf("unsupported params = %v", cfg.UnsupportedParams)
	}
	if cfg.DefaultCompletionTokens != 25000 {
		t.Fatalf("default completion tokens = %d", cfg.DefaultCompletionTokens)
	}
	if cfg.StreamChunkBytes != 8192 {
		t.Fatalf("stream chunk bytes = %d", cfg.StreamChunkBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reasonrelay.toml")
	cfg := NewDefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:9999"
	cfg.RestrictedModels = []string{"o1-preview"}
	cfg.Tunnel.Enabled = true

	if err := SaveServerConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("listen addr = %q", got.ListenAddr)
	}
	if !reflect.DeepEqual(got.RestrictedModels, []string{"o1-preview"}) {
		t.Fatalf("restricted models = %v", got.RestrictedModels)
	}
	if !got.Tunnel.Enabled {
		t.Fatal("tunnel.enabled lost in round trip")
	}
}

func TestNormalizeFillsGaps(t *testing.T) {
	cfg := &ServerConfig{
		ListenAddr:      " 127.0.0.1:5000 ",
		UpstreamBaseURL: "https://api.openai.com///",
	}
	cfg.Normalize()
	if cfg.ListenAddr != "127.0.0.1:5000" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.UpstreamBaseURL != "https://api.openai.com" {
		t.Fatalf("upstream = %q", cfg.UpstreamBaseURL)
	}
	if cfg.DefaultCompletionTokens != DefaultCompletionTokenBudget {
		t.Fatalf("default completion tokens = %d", cfg.DefaultCompletionTokens)
	}
	if cfg.StreamChunkBytes != DefaultStreamChunkBytes {
		t.Fatalf("stream chunk bytes = %d", cfg.StreamChunkBytes)
	}
	if cfg.Tunnel.Binary != "ngrok" || cfg.Tunnel.InspectAddr != "127.0.0.1:4040" {
		t.Fatalf("tunnel defaults = %+v", cfg.Tunnel)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := NewDefaultServerConfig()
	cfg.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty listen_addr must be rejected")
	}

	cfg = NewDefaultServerConfig()
	cfg.UpstreamBaseURL = "ftp://api.openai.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("non-http upstream must be rejected")
	}

	cfg = NewDefaultServerConfig()
	cfg.TLS.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("tls without domain must be rejected")
	}
}
