// Package config loads lnp_resolver.cfg, a sectioned key/value file, with
// github.com/spf13/viper — the same library and layering (env overrides
// file overrides defaults) the teacher uses, adapted from YAML to INI
// since spec.md §6 describes a flat sectioned key/value format rather
// than YAML.
//
// Environment variables use the LNPRESOLVER_ prefix and underscore-
// separated keys, e.g. LNPRESOLVER_DB_HOST -> db.host.
package config

import (
	"os"
	"strings"
)

// DaemonConfig is the [daemon] section: listen endpoints and log level.
type DaemonConfig struct {
	Listen   []string `mapstructure:"listen"`
	LogLevel string   `mapstructure:"log_level"`
}

// DBConfig is the [db] section: control-database connection parameters.
type DBConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Pass          string `mapstructure:"pass"`
	Name          string `mapstructure:"name"`
	Schema        string `mapstructure:"schema"`
	ConnTimeout   string `mapstructure:"conn_timeout"`
	CheckInterval string `mapstructure:"check_interval"`
}

// SIPConfig is the [sip] section: outbound SIP identity the sip driver
// presents on its INVITE requests.
type SIPConfig struct {
	ContactUser string `mapstructure:"contact_user"`
	FromURI     string `mapstructure:"from_uri"`
	FromName    string `mapstructure:"from_name"`
}

// PrometheusConfig is the [prometheus] section: the metrics HTTP endpoint.
type PrometheusConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig is the ambient [logging] section — not in spec.md §6's
// table, carried regardless per SPEC_FULL.md's AMBIENT STACK.
type LoggingConfig struct {
	Level            string `mapstructure:"level"`
	Structured       bool   `mapstructure:"structured"`
	StructuredFormat string `mapstructure:"structured_format"`
}

// AdminConfig is the ambient [admin] section controlling internal/adminapi.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// Config is the fully loaded, validated configuration.
type Config struct {
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	DB         DBConfig         `mapstructure:"db"`
	SIP        SIPConfig        `mapstructure:"sip"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

// ResolveConfigPath determines the config file path from a flag or
// environment, mirroring the teacher's ResolveConfigPath.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("LNPRESOLVER_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load reads path (if non-empty), applies LNPRESOLVER_-prefixed
// environment overrides, fills in defaults, and validates the result.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (LNPRESOLVER_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
