// Package config provides configuration loading and validation for
// lnpresolverd.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/lnpresolverd/main.go)
//  2. Environment variables (LNPRESOLVER_* prefix)
//  3. INI config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables are mapped from LNPRESOLVER_SECTION_SETTING
// format, e.g. LNPRESOLVER_DB_HOST maps to db.host in the config file.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("ini")

	setDefaults(v)

	// LNPRESOLVER_DB_HOST -> db.host
	v.SetEnvPrefix("LNPRESOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.listen", []string{"0.0.0.0:9999"})
	v.SetDefault("daemon.log_level", "INFO")

	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.schema", "public")
	v.SetDefault("db.conn_timeout", "5s")
	v.SetDefault("db.check_interval", "30s")

	v.SetDefault("sip.contact_user", "lnpresolver")
	v.SetDefault("sip.from_name", "LNP Resolver")

	v.SetDefault("prometheus.host", "127.0.0.1")
	v.SetDefault("prometheus.port", 9100)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.api_key", "")
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadDaemonConfig(v, cfg)
	loadDBConfig(v, cfg)
	loadSIPConfig(v, cfg)
	loadPrometheusConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadAdminConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDaemonConfig(v *viper.Viper, cfg *Config) {
	cfg.Daemon.Listen = getStringSliceOrSplit(v, "daemon.listen")
	cfg.Daemon.LogLevel = strings.ToUpper(v.GetString("daemon.log_level"))
}

func loadDBConfig(v *viper.Viper, cfg *Config) {
	cfg.DB.Host = v.GetString("db.host")
	cfg.DB.Port = v.GetInt("db.port")
	cfg.DB.User = firstNonEmpty(v.GetString("db.user"), v.GetString("db.username"))
	cfg.DB.Pass = firstNonEmpty(v.GetString("db.pass"), v.GetString("db.password"))
	cfg.DB.Name = firstNonEmpty(v.GetString("db.name"), v.GetString("db.database"))
	cfg.DB.Schema = v.GetString("db.schema")
	cfg.DB.ConnTimeout = v.GetString("db.conn_timeout")
	cfg.DB.CheckInterval = v.GetString("db.check_interval")
}

func loadSIPConfig(v *viper.Viper, cfg *Config) {
	cfg.SIP.ContactUser = v.GetString("sip.contact_user")
	cfg.SIP.FromURI = v.GetString("sip.from_uri")
	cfg.SIP.FromName = v.GetString("sip.from_name")
}

func loadPrometheusConfig(v *viper.Viper, cfg *Config) {
	cfg.Prometheus.Host = v.GetString("prometheus.host")
	cfg.Prometheus.Port = v.GetInt("prometheus.port")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
}

func loadAdminConfig(v *viper.Viper, cfg *Config) {
	cfg.Admin.Enabled = v.GetBool("admin.enabled")
	cfg.Admin.Host = v.GetString("admin.host")
	cfg.Admin.Port = v.GetInt("admin.port")
	cfg.Admin.APIKey = v.GetString("admin.api_key")
}

// firstNonEmpty returns the first non-empty string, supporting spec.md
// §6's "user/username" and "pass/password" and "name/database" alternate
// key spellings for the [db] section.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// getStringSliceOrSplit handles both slice and comma-separated string
// values, matching spec.md §6's "comma-separated or repeated" listen
// endpoint syntax.
func getStringSliceOrSplit(v *viper.Viper, key string) []string {
	if slice := v.GetStringSlice(key); len(slice) > 0 {
		result := make([]string, 0, len(slice))
		for _, s := range slice {
			for _, p := range strings.Split(s, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
		}
		return result
	}
	if s := v.GetString(key); s != "" {
		parts := strings.Split(s, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return nil
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if len(cfg.Daemon.Listen) == 0 {
		return errors.New("daemon.listen must name at least one endpoint")
	}

	if cfg.DB.Port <= 0 || cfg.DB.Port > 65535 {
		return errors.New("db.port must be 1..65535")
	}

	if cfg.Prometheus.Port <= 0 || cfg.Prometheus.Port > 65535 {
		return errors.New("prometheus.port must be 1..65535")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}

	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
	if cfg.Admin.Enabled {
		if cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535 {
			return errors.New("admin.port must be 1..65535")
		}
	}

	return nil
}
