package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/secrets"
	"github.com/PostPulse/mcp-server-postpulse/internal/securemem"
	"github.com/joho/godotenv"
)

const appName = "postpulse-mcp"

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	PublicURL              string `json:"public_url,omitempty"` // Externally visible URL, e.g. https://mcp.post-pulse.com
	MaxConnections         int    `json:"max_connections"`      // 0 = unlimited
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// AuthConfig describes the OAuth issuer whose access tokens are accepted
type AuthConfig struct {
	Issuer             string   `json:"issuer"`
	JWKSURI            string   `json:"jwks_uri"`
	Audience           string   `json:"audience"`
	ScopesSupported    []string `json:"scopes_supported"`
	JWKSRefreshSeconds int      `json:"jwks_refresh_seconds"` // Minimum interval between unknown-kid refetches
}

// APIConfig describes the downstream PostPulse API
type APIConfig struct {
	BaseURL        string `json:"base_url"`
	ClientID       string `json:"client_id"` // Sent as x-api-key; may be sealed with "enc:"
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SessionConfig tunes session lifetime and the push stream
type SessionConfig struct {
	IdleTimeoutSeconds int `json:"idle_timeout_seconds"` // 0 disables idle expiry
	StreamBuffer       int `json:"stream_buffer"`
	KeepAliveSeconds   int `json:"keep_alive_seconds"`
	Shards             int `json:"shards"`
}

// Config represents application configuration
type Config struct {
	Server   ServerConfig  `json:"server"`
	Auth     AuthConfig    `json:"auth"`
	API      APIConfig     `json:"api"`
	Session  SessionConfig `json:"session"`
	LogLevel string        `json:"log_level"` // debug, info, warn, error, none
	LogPath  string        `json:"log_path"`  // empty or "-" logs to stderr
}

// DefaultScopes are the scopes advertised in the protected resource metadata.
var DefaultScopes = []string{
	"openid", "profile", "email", "offline_access",
	"postpulse-api/accounts.read", "postpulse-api/api",
	"postpulse-api/media.write", "postpulse-api/posts.read",
	"postpulse-api/posts.write",
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", appName)
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   3000,
			ShutdownTimeoutSeconds: 10,
		},
		Auth: AuthConfig{
			Issuer:             "https://auth.post-pulse.com/",
			JWKSURI:            "https://auth.post-pulse.com/.well-known/jwks.json",
			Audience:           "https://api.post-pulse.com",
			ScopesSupported:    append([]string(nil), DefaultScopes...),
			JWKSRefreshSeconds: 30,
		},
		API: APIConfig{
			BaseURL:        "https://api.post-pulse.com",
			TimeoutSeconds: 30,
		},
		Session: SessionConfig{
			IdleTimeoutSeconds: 0,
			StreamBuffer:       64,
			KeepAliveSeconds:   25,
			Shards:             16,
		},
		LogLevel: "info",
		LogPath:  "",
	}
}

// GetConfigPath returns the config file path, honouring POSTPULSE_MCP_CONFIG.
func GetConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("POSTPULSE_MCP_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if len(config.Auth.ScopesSupported) == 0 {
		config.Auth.ScopesSupported = append([]string(nil), DefaultScopes...)
	}

	return config, nil
}

// LoadEnvFile loads KEY=VALUE pairs from dotenv files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnvFile(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := get("PUBLIC_URL"); ok {
		c.Server.PublicURL = v
	}
	if v, ok := get("POSTPULSE_AUTH_ISSUER"); ok {
		c.Auth.Issuer = v
	}
	if v, ok := get("POSTPULSE_AUTH_JWKS_URI"); ok {
		c.Auth.JWKSURI = v
	}
	if v, ok := get("POSTPULSE_AUDIENCE"); ok {
		c.Auth.Audience = v
	}
	if v, ok := get("POSTPULSE_API_URL"); ok {
		c.API.BaseURL = v
	}
	if v, ok := get("POSTPULSE_CLIENT_ID"); ok {
		c.API.ClientID = v
	}
	if v, ok := get("POSTPULSE_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("POSTPULSE_LOG_PATH"); ok {
		c.LogPath = v
	}
	if v, ok := get("POSTPULSE_SESSION_IDLE_TIMEOUT"); ok {
		seconds, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("POSTPULSE_SESSION_IDLE_TIMEOUT: %w", err)
		}
		c.Session.IdleTimeoutSeconds = seconds
	}
	return nil
}

// parseSeconds accepts either a Go duration ("15m") or plain seconds ("900").
func parseSeconds(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	return int(d / time.Second), nil
}

// Validate checks that the configuration can be served.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	for name, raw := range map[string]string{
		"auth.issuer":   c.Auth.Issuer,
		"auth.jwks_uri": c.Auth.JWKSURI,
		"api.base_url":  c.API.BaseURL,
	} {
		if err := validateURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Server.PublicURL != "" {
		if err := validateURL(c.Server.PublicURL); err != nil {
			errs = append(errs, fmt.Errorf("server.public_url: %w", err))
		}
	}
	if c.Auth.Audience == "" {
		errs = append(errs, errors.New("auth.audience is required"))
	}
	if c.Session.IdleTimeoutSeconds < 0 {
		errs = append(errs, errors.New("session.idle_timeout_seconds must not be negative"))
	}
	return errors.Join(errs...)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ResourceURL returns the public URL of this server: PublicURL when set,
// otherwise derived from the listen address.
func (c *Config) ResourceURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimRight(c.Server.PublicURL, "/")
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}

// IdleTimeout returns the session idle expiry, zero when disabled.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSeconds) * time.Second
}

// KeepAlive returns the stream keep-alive period.
func (c *Config) KeepAlive() time.Duration {
	if c.Session.KeepAliveSeconds <= 0 {
		return 25 * time.Second
	}
	return time.Duration(c.Session.KeepAliveSeconds) * time.Second
}

// ShutdownTimeout returns how long graceful shutdown may take.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// APITimeout returns the per-request timeout for the PostPulse API.
func (c *Config) APITimeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// JWKSRefreshInterval returns the minimum delay between JWKS refetches.
func (c *Config) JWKSRefreshInterval() time.Duration {
	if c.Auth.JWKSRefreshSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Auth.JWKSRefreshSeconds) * time.Second
}

// HasSealedSecrets reports whether any field needs a password to open.
func (c *Config) HasSealedSecrets() bool {
	return secrets.IsSealed(c.API.ClientID)
}

// OpenClientID returns the API key in protected memory, decrypting it with
// password when it is sealed.
func (c *Config) OpenClientID(password string) (*securemem.String, error) {
	plain, _, err := secrets.Open(c.API.ClientID, password)
	if err != nil {
		return nil, fmt.Errorf("open api.client_id: %w", err)
	}
	return securemem.NewStringFromBytes(plain), nil
}
