package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "LEXITYPE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultServerDBPath  = "lexitype-server.db"
	defaultAgentDBPath   = "lexitype.db"
	defaultLogLevel      = "info"
	defaultAuthIssuer    = "lexitype-auth"
	defaultAuthAudience  = "lexitype-sync"
	defaultSyncInterval  = 5 * time.Minute
	defaultRolloverCheck = time.Minute
)

// ServerConfig captures runtime configuration for the sync API server.
type ServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	AuthIssuer    string
	AuthAudience  string
}

// AgentConfig captures runtime configuration for the device agent.
type AgentConfig struct {
	DatabasePath  string
	LogLevel      string
	ServerURL     string
	SyncToken     string
	SyncInterval  time.Duration
	RolloverCheck time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. Both binaries share the prefix; unused keys are simply ignored.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.rollover_check", defaultRolloverCheck)
}

// LoadServer parses the server's runtime configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:    configViper.GetString("auth.issuer"),
		AuthAudience:  configViper.GetString("auth.audience"),
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		cfg.DatabasePath = defaultServerDBPath
	}
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return ServerConfig{}, fmt.Errorf("auth.signing_secret is required")
	}
	return cfg, nil
}

// LoadAgent parses the agent's runtime configuration from viper.
func LoadAgent(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		ServerURL:     configViper.GetString("sync.server_url"),
		SyncToken:     configViper.GetString("sync.token"),
		SyncInterval:  configViper.GetDuration("sync.interval"),
		RolloverCheck: configViper.GetDuration("sync.rollover_check"),
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		cfg.DatabasePath = defaultAgentDBPath
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.RolloverCheck <= 0 {
		cfg.RolloverCheck = defaultRolloverCheck
	}
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return AgentConfig{}, fmt.Errorf("sync.server_url is required")
	}
	if strings.TrimSpace(cfg.SyncToken) == "" {
		return AgentConfig{}, fmt.Errorf("sync.token is required")
	}
	return cfg, nil
}
