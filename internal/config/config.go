// Package config provides configuration management for the account daemon.
// It handles loading and parsing YAML configuration files, and provides structured
// access to server, logging, login flow and identity provider settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultHost keeps the command API on loopback unless configured otherwise.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the loopback port the command API listens on.
	DefaultPort = 8318
	// DefaultAuthDir holds credential files when no other backend is configured.
	DefaultAuthDir = "~/.accountd"

	DefaultPollInterval   = 50 * time.Millisecond
	DefaultFlowTimeout    = 10 * time.Minute
	DefaultSurfaceLabel   = "signin"
	DefaultSurfaceTitle   = "Sign into Modrinth"
	DefaultRedirectPrefix = "https://login.live.com/oauth20_desktop.srf"

	DefaultAuthURL     = "https://login.live.com/oauth20_authorize.srf"
	DefaultTokenURL    = "https://login.live.com/oauth20_token.srf"
	DefaultRedirectURI = "https://login.live.com/oauth20_desktop.srf"
	DefaultClientID    = "00000000402b5328"
)

// Surface kinds accepted by login.surface.
const (
	SurfaceRelay    = "relay"
	SurfaceBrowser  = "browser"
	SurfaceTerminal = "terminal"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is "127.0.0.1"; use "0.0.0.0" to bind all interfaces.
	Host string `yaml:"host" json:"host"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"port"`

	// AuthDir is the directory where credential files are stored.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// APIKeys guards the command API. An empty list disables the check.
	APIKeys []string `yaml:"api-keys" json:"api-keys"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under the logs directory.
	// When exceeded, the oldest log files are deleted until within the limit. Set to 0 to disable.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// ProxyURL is the URL of an optional proxy server used for identity provider requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	Login    LoginConfig    `yaml:"login" json:"login"`
	Identity IdentityConfig `yaml:"identity" json:"identity"`
}

// LoginConfig tunes the interactive sign-in flow.
type LoginConfig struct {
	// PollInterval is how often the sign-in surface is inspected.
	PollInterval time.Duration `yaml:"poll-interval" json:"poll-interval"`
	// FlowTimeout bounds a single sign-in attempt.
	FlowTimeout time.Duration `yaml:"flow-timeout" json:"flow-timeout"`
	// SurfaceLabel names the sign-in surface; a stale surface with this label is closed first.
	SurfaceLabel string `yaml:"surface-label" json:"surface-label"`
	SurfaceTitle string `yaml:"surface-title" json:"surface-title"`
	// Surface selects the surface host: relay, browser or terminal.
	Surface string `yaml:"surface" json:"surface"`
	// RedirectPrefix is the location prefix that marks a completed sign-in.
	// Defaults to the identity redirect URI.
	RedirectPrefix string `yaml:"redirect-prefix" json:"redirect-prefix"`
}

// IdentityConfig describes the OAuth identity provider.
type IdentityConfig struct {
	ClientID     string `yaml:"client-id" json:"client-id"`
	ClientSecret string `yaml:"client-secret" json:"-"`
	// Issuer enables OIDC discovery. AuthURL and TokenURL are ignored when set.
	Issuer      string   `yaml:"issuer" json:"issuer"`
	AuthURL     string   `yaml:"auth-url" json:"auth-url"`
	TokenURL    string   `yaml:"token-url" json:"token-url"`
	RedirectURI string   `yaml:"redirect-uri" json:"redirect-uri"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
	Prompt      string   `yaml:"prompt" json:"prompt"`

	// ProfileURL is fetched with the access token after the exchange.
	ProfileURL      string `yaml:"profile-url" json:"profile-url"`
	ProfileIDPath   string `yaml:"profile-id-path" json:"profile-id-path"`
	ProfileNamePath string `yaml:"profile-name-path" json:"profile-name-path"`
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct and applies defaults.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing, it returns a default Config.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func (cfg *Config) ApplyDefaults() {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.AuthDir) == "" {
		cfg.AuthDir = DefaultAuthDir
	}
	if cfg.LogsMaxTotalSizeMB < 0 {
		cfg.LogsMaxTotalSizeMB = 0
	}

	l := &cfg.Login
	if l.PollInterval <= 0 {
		l.PollInterval = DefaultPollInterval
	}
	if l.FlowTimeout <= 0 {
		l.FlowTimeout = DefaultFlowTimeout
	}
	if strings.TrimSpace(l.SurfaceLabel) == "" {
		l.SurfaceLabel = DefaultSurfaceLabel
	}
	if strings.TrimSpace(l.SurfaceTitle) == "" {
		l.SurfaceTitle = DefaultSurfaceTitle
	}
	l.Surface = strings.ToLower(strings.TrimSpace(l.Surface))
	if l.Surface == "" {
		l.Surface = SurfaceRelay
	}

	id := &cfg.Identity
	if id.ClientID == "" {
		id.ClientID = DefaultClientID
	}
	if id.Issuer == "" {
		if id.AuthURL == "" {
			id.AuthURL = DefaultAuthURL
		}
		if id.TokenURL == "" {
			id.TokenURL = DefaultTokenURL
		}
	}
	if id.RedirectURI == "" {
		id.RedirectURI = DefaultRedirectURI
	}
	if len(id.Scopes) == 0 {
		id.Scopes = []string{"XboxLive.signin", "offline_access"}
	}
	if id.Prompt == "" {
		id.Prompt = "select_account"
	}
	if id.ProfileIDPath == "" {
		id.ProfileIDPath = "id"
	}
	if id.ProfileNamePath == "" {
		id.ProfileNamePath = "name"
	}

	if l.RedirectPrefix == "" {
		l.RedirectPrefix = id.RedirectURI
	}
}

// Validate reports settings that cannot be recovered by defaults.
func (cfg *Config) Validate() error {
	switch cfg.Login.Surface {
	case SurfaceRelay, SurfaceBrowser, SurfaceTerminal:
	default:
		return fmt.Errorf("config: unknown login surface %q", cfg.Login.Surface)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", cfg.Port)
	}
	if cfg.Login.PollInterval > cfg.Login.FlowTimeout {
		return fmt.Errorf("config: login poll-interval %s exceeds flow-timeout %s", cfg.Login.PollInterval, cfg.Login.FlowTimeout)
	}
	return nil
}
