package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "POKEBINDER"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "pokebinder.db"
	defaultLocalDatabasePath = "binderctl.db"
	defaultAPIBaseURL        = "http://localhost:8080"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultIssuer            = "tauth"
	defaultReconcileInterval = 2 * time.Minute
	defaultCacheTTL          = 5 * time.Minute
	defaultMaxCards          = 0
	defaultMaxPages          = 0
)

// ServerConfig captures runtime configuration for the binder API.
type ServerConfig struct {
	HTTPAddress     string
	TAuthSigningKey string
	TAuthIssuer     string
	TAuthCookieName string
	DatabasePath    string
	LogLevel        string
}

// ClientConfig captures runtime configuration for binderctl.
type ClientConfig struct {
	APIBaseURL        string
	APIToken          string
	UserID            string
	DatabasePath      string
	LogLevel          string
	ReconcileInterval time.Duration
	CacheTTL          time.Duration
	MaxCards          int
	MaxPages          int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultIssuer)

	configViper.SetDefault("client.api_base_url", defaultAPIBaseURL)
	configViper.SetDefault("client.database_path", defaultLocalDatabasePath)
	configViper.SetDefault("client.reconcile_interval", defaultReconcileInterval)
	configViper.SetDefault("client.cache_ttl", defaultCacheTTL)
	configViper.SetDefault("limits.max_cards", defaultMaxCards)
	configViper.SetDefault("limits.max_pages", defaultMaxPages)
}

// LoadServer parses the binder API configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		TAuthSigningKey: configViper.GetString("tauth.signing_secret"),
		TAuthIssuer:     configViper.GetString("tauth.issuer"),
		TAuthCookieName: configViper.GetString("tauth.cookie_name"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClient parses the binderctl configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		APIBaseURL:        configViper.GetString("client.api_base_url"),
		APIToken:          configViper.GetString("client.api_token"),
		UserID:            strings.TrimSpace(configViper.GetString("client.user_id")),
		DatabasePath:      configViper.GetString("client.database_path"),
		LogLevel:          configViper.GetString("log.level"),
		ReconcileInterval: configViper.GetDuration("client.reconcile_interval"),
		CacheTTL:          configViper.GetDuration("client.cache_ttl"),
		MaxCards:          configViper.GetInt("limits.max_cards"),
		MaxPages:          configViper.GetInt("limits.max_pages"),
	}
	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	return nil
}

func (c ClientConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("client.database_path is required")
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("client.api_base_url is required")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("client.reconcile_interval must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("client.cache_ttl must be positive")
	}
	if c.MaxCards < 0 || c.MaxPages < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}
