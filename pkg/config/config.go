// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package config loads the agent configuration. Every key carries a
// default and an environment binding with the LSW_ prefix (dots become
// underscores); an optional YAML file sits between the two.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tundzai001/land-slide-web/pkg/model"
)

const (
	envPrefix = "LSW"
	// configName is the stem of the optional YAML file searched for in
	// the working directory and /etc/landslide.
	configName = "landslide"
)

// BrokerSettings configure the MQTT consumer.
type BrokerSettings struct {
	Host           string
	Port           int
	Username       string
	Password       string
	ClientIDPrefix string
}

// StoreSettings carry the three store DSNs. A postgres:// scheme selects
// the pgx driver, anything else opens sqlite.
type StoreSettings struct {
	AuthURL   string
	ConfigURL string
	DataURL   string
}

// HTTPSettings configure the API listener.
type HTTPSettings struct {
	BindAddress string
	Port        int
}

// AuthSettings are handed to the external auth collaborator.
type AuthSettings struct {
	TokenSecret   string
	TokenLifetime time.Duration
}

// Settings is the typed view of the loaded configuration.
type Settings struct {
	LogLevel  string
	LogFormat string
	LogFile   string

	Broker BrokerSettings
	Stores StoreSettings
	HTTP   HTTPSettings
	Auth   AuthSettings

	// TopicReloadInterval is the registry reconcile period.
	TopicReloadInterval time.Duration

	// SaveIntervals are the selective-save windows per sensor type;
	// SaveIntervalDefault covers types without an entry.
	SaveIntervals       map[model.SensorType]time.Duration
	SaveIntervalDefault time.Duration

	// AESKey/AESIV enable payload decryption when both are 16 bytes.
	AESKey string
	AESIV  string

	DefaultAdminUsername string
	DefaultAdminPassword string
	SystemPassword       string
}

func bindEnvAndSetDefault(v *viper.Viper, key string, val interface{}) {
	v.SetDefault(key, val)
	_ = v.BindEnv(key)
}

func initDefaults(v *viper.Viper) {
	bindEnvAndSetDefault(v, "log_level", "info")
	bindEnvAndSetDefault(v, "log_format", "text")
	bindEnvAndSetDefault(v, "log_file", "")

	bindEnvAndSetDefault(v, "broker.host", "localhost")
	bindEnvAndSetDefault(v, "broker.port", 1883)
	bindEnvAndSetDefault(v, "broker.username", "")
	bindEnvAndSetDefault(v, "broker.password", "")
	bindEnvAndSetDefault(v, "broker.client_id_prefix", "lsw-agent")

	bindEnvAndSetDefault(v, "stores.auth_url", "file:landslide_auth.db")
	bindEnvAndSetDefault(v, "stores.config_url", "file:landslide_config.db")
	bindEnvAndSetDefault(v, "stores.data_url", "file:landslide_data.db")

	bindEnvAndSetDefault(v, "topic_reload_interval", 60)

	bindEnvAndSetDefault(v, "save_interval.gnss", 86400)
	bindEnvAndSetDefault(v, "save_interval.rain", 3600)
	bindEnvAndSetDefault(v, "save_interval.water", 3600)
	bindEnvAndSetDefault(v, "save_interval.imu", 2592000)
	bindEnvAndSetDefault(v, "save_interval.default", 60)

	bindEnvAndSetDefault(v, "payload.aes_key", "")
	bindEnvAndSetDefault(v, "payload.aes_iv", "")

	bindEnvAndSetDefault(v, "http.bind_address", "0.0.0.0")
	bindEnvAndSetDefault(v, "http.port", 8000)

	bindEnvAndSetDefault(v, "auth.token_secret", "")
	bindEnvAndSetDefault(v, "auth.token_lifetime_minutes", 30)

	bindEnvAndSetDefault(v, "default_admin.username", "admin")
	bindEnvAndSetDefault(v, "default_admin.password", "")

	bindEnvAndSetDefault(v, "system_password", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	initDefaults(v)
	return v
}

// Load reads defaults, the YAML file and the environment into a Settings
// struct. An explicit path must exist; without one the file is optional.
func Load(path string) (*Settings, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/landslide")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	s := &Settings{
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogFile:   v.GetString("log_file"),
		Broker: BrokerSettings{
			Host:           v.GetString("broker.host"),
			Port:           v.GetInt("broker.port"),
			Username:       v.GetString("broker.username"),
			Password:       v.GetString("broker.password"),
			ClientIDPrefix: v.GetString("broker.client_id_prefix"),
		},
		Stores: StoreSettings{
			AuthURL:   v.GetString("stores.auth_url"),
			ConfigURL: v.GetString("stores.config_url"),
			DataURL:   v.GetString("stores.data_url"),
		},
		HTTP: HTTPSettings{
			BindAddress: v.GetString("http.bind_address"),
			Port:        v.GetInt("http.port"),
		},
		Auth: AuthSettings{
			TokenSecret:   v.GetString("auth.token_secret"),
			TokenLifetime: time.Duration(v.GetInt("auth.token_lifetime_minutes")) * time.Minute,
		},
		TopicReloadInterval: time.Duration(v.GetInt("topic_reload_interval")) * time.Second,
		SaveIntervals: map[model.SensorType]time.Duration{
			model.SensorGNSS:  time.Duration(v.GetInt("save_interval.gnss")) * time.Second,
			model.SensorRain:  time.Duration(v.GetInt("save_interval.rain")) * time.Second,
			model.SensorWater: time.Duration(v.GetInt("save_interval.water")) * time.Second,
			model.SensorIMU:   time.Duration(v.GetInt("save_interval.imu")) * time.Second,
		},
		SaveIntervalDefault:  time.Duration(v.GetInt("save_interval.default")) * time.Second,
		AESKey:               v.GetString("payload.aes_key"),
		AESIV:                v.GetString("payload.aes_iv"),
		DefaultAdminUsername: v.GetString("default_admin.username"),
		DefaultAdminPassword: v.GetString("default_admin.password"),
		SystemPassword:       v.GetString("system_password"),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.Broker.Port < 1 || s.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range", s.Broker.Port)
	}
	if s.HTTP.Port < 1 || s.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", s.HTTP.Port)
	}
	if len(s.AESKey) != 0 && len(s.AESKey) != 16 {
		return fmt.Errorf("payload.aes_key must be 16 bytes, got %d", len(s.AESKey))
	}
	if len(s.AESKey) == 16 && len(s.AESIV) != 16 {
		return fmt.Errorf("payload.aes_iv must be 16 bytes, got %d", len(s.AESIV))
	}
	if s.TopicReloadInterval <= 0 {
		return fmt.Errorf("topic_reload_interval must be positive")
	}
	if s.SaveIntervalDefault <= 0 {
		return fmt.Errorf("save_interval.default must be positive")
	}
	return nil
}

// SaveInterval returns the selective-save window for a sensor type.
func (s *Settings) SaveInterval(t model.SensorType) time.Duration {
	if d, ok := s.SaveIntervals[t]; ok {
		return d
	}
	return s.SaveIntervalDefault
}
