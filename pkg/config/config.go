package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultConfigFileName = "reasonrelay.toml"

// DefaultUpstreamBaseURL is the origin all relayed requests are sent to.
const DefaultUpstreamBaseURL = "https://api.openai.com"

// DefaultCompletionTokenBudget is inserted as max_completion_tokens when a
// restricted-model request specifies no token budget at all.
const DefaultCompletionTokenBudget = 25000

// DefaultStreamChunkBytes is the buffer size used when copying the upstream
// response body to the caller.
const DefaultStreamChunkBytes = 8192

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain"`
	Email    string `toml:"email"`
	CacheDir string `toml:"cache_dir"`
}

type TunnelConfig struct {
	Enabled     bool   `toml:"enabled"`
	Binary      string `toml:"binary,omitempty"`
	InspectAddr string `toml:"inspect_addr,omitempty"`
}

type ServerConfig struct {
	ListenAddr              string       `toml:"listen_addr"`
	UpstreamBaseURL         string       `toml:"upstream_base_url"`
	RestrictedModels        []string     `toml:"restricted_models"`
	UnsupportedParams       []string     `toml:"unsupported_params"`
	DefaultCompletionTokens int          `toml:"default_completion_tokens"`
	StreamChunkBytes        int          `toml:"stream_chunk_bytes"`
	LogLevel                string       `toml:"log_level,omitempty"`
	AllowAllOrigins         bool         `toml:"allow_all_origins"`
	TLS                     TLSConfig    `toml:"tls"`
	Tunnel                  TunnelConfig `toml:"tunnel"`
}

func DefaultServerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "reasonrelay", defaultConfigFileName)
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", "reasonrelay", "tls-autocert")
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      "127.0.0.1:5000",
		UpstreamBaseURL: DefaultUpstreamBaseURL,
		RestrictedModels: []string{
			"o1-preview",
			"o1-mini",
		},
		UnsupportedParams: []string{
			"temperature", "top_p", "n", "presence_penalty", "frequency_penalty",
			"stream", "functions", "function_call", "logit_bias", "user", "system_prompt",
		},
		DefaultCompletionTokens: DefaultCompletionTokenBudget,
		StreamChunkBytes:        DefaultStreamChunkBytes,
		LogLevel:                "info",
		AllowAllOrigins:         true,
		TLS: TLSConfig{
			Enabled:  false,
			CacheDir: DefaultTLSCacheDir(),
		},
		Tunnel: TunnelConfig{
			Enabled:     false,
			Binary:      "ngrok",
			InspectAddr: "127.0.0.1:4040",
		},
	}
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveServerConfig(path string, cfg *ServerConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write config temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func (c *ServerConfig) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	c.UpstreamBaseURL = strings.TrimRight(strings.TrimSpace(c.UpstreamBaseURL), "/")
	c.LogLevel = strings.TrimSpace(c.LogLevel)
	if c.UpstreamBaseURL == "" {
		c.UpstreamBaseURL = DefaultUpstreamBaseURL
	}
	if c.DefaultCompletionTokens <= 0 {
		c.DefaultCompletionTokens = DefaultCompletionTokenBudget
	}
	if c.StreamChunkBytes <= 0 {
		c.StreamChunkBytes = DefaultStreamChunkBytes
	}
	if strings.TrimSpace(c.Tunnel.Binary) == "" {
		c.Tunnel.Binary = "ngrok"
	}
	if strings.TrimSpace(c.Tunnel.InspectAddr) == "" {
		c.Tunnel.InspectAddr = "127.0.0.1:4040"
	}
	models := make([]string, 0, len(c.RestrictedModels))
	for _, m := range c.RestrictedModels {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	c.RestrictedModels = models
	params := make([]string, 0, len(c.UnsupportedParams))
	for _, p := range c.UnsupportedParams {
		if p = strings.TrimSpace(p); p != "" {
			params = append(params, p)
		}
	}
	c.UnsupportedParams = params
}

func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr cannot be empty")
	}
	u, err := url.Parse(c.UpstreamBaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream_base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream_base_url must be http or https, got %q", c.UpstreamBaseURL)
	}
	if u.Host == "" {
		return errors.New("upstream_base_url must include a host")
	}
	if c.TLS.Enabled && c.TLS.Domain == "" {
		return errors.New("tls.domain is required when tls.enabled=true")
	}
	return nil
}
