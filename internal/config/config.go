package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PARLEY"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "parley.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 60
	defaultMaxMessageLength  = 4000
	defaultHistoryPageLimit  = 50
	defaultMembershipTTLMs   = 5000
	defaultMembershipTimeout = 2000
	defaultSendBuffer        = 32
)

// AppConfig captures runtime configuration for the chat API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	SigningSecret     string
	TokenTTL          time.Duration
	LogLevel          string
	MaxMessageLength  int
	HistoryPageLimit  int
	MembershipTTL     time.Duration
	MembershipTimeout time.Duration
	SendBuffer        int
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
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("chat.max_message_length", defaultMaxMessageLength)
	configViper.SetDefault("chat.history_page_limit", defaultHistoryPageLimit)
	configViper.SetDefault("membership.cache_ttl_ms", defaultMembershipTTLMs)
	configViper.SetDefault("membership.check_timeout_ms", defaultMembershipTimeout)
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		LogLevel:          configViper.GetString("log.level"),
		MaxMessageLength:  configViper.GetInt("chat.max_message_length"),
		HistoryPageLimit:  configViper.GetInt("chat.history_page_limit"),
		MembershipTTL:     time.Duration(configViper.GetInt("membership.cache_ttl_ms")) * time.Millisecond,
		MembershipTimeout: time.Duration(configViper.GetInt("membership.check_timeout_ms")) * time.Millisecond,
		SendBuffer:        configViper.GetInt("realtime.send_buffer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be positive")
	}
	if c.HistoryPageLimit <= 0 {
		return fmt.Errorf("chat.history_page_limit must be positive")
	}
	if c.MembershipTTL <= 0 {
		return fmt.Errorf("membership.cache_ttl_ms must be positive")
	}
	if c.MembershipTimeout <= 0 {
		return fmt.Errorf("membership.check_timeout_ms must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	return nil
}
