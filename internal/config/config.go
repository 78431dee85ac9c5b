// Package config builds the runtime configuration from defaults, an optional
// YAML file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen           string        `yaml:"listen"`
	MetricsListen    string        `yaml:"metrics_listen"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxSessions      int64         `yaml:"max_sessions"`
	DNS              DNS           `yaml:"dns"`
	Log              Log           `yaml:"log"`
}

type DNS struct {
	Servers  []string      `yaml:"servers"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

func Default() *Config {
	return &Config{
		Listen:           "0.0.0.0:2080",
		MetricsListen:    ":10081",
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		DNS: DNS{
			Timeout:  2 * time.Second,
			CacheTTL: time.Minute,
		},
		Log: Log{Level: "info"},
	}
}

// LoadFile reads a YAML file over the defaults.
func LoadFile(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load parses args (without the program name). Values come from the
// defaults, then the file named by --config, then flags that were set
// explicitly.
func Load(args []string) (*Config, error) {
	def := Default()
	_, defPort, _ := net.SplitHostPort(def.Listen)
	portDefault, _ := strconv.Atoi(defPort)

	fs := pflag.NewFlagSet("socks5-relay", pflag.ContinueOnError)
	fs.SortFlags = false

	var (
		path             = fs.StringP("config", "c", "", "Path to a YAML config file")
		listen           = fs.StringP("listen", "l", def.Listen, "SOCKS5 listen address")
		port             = fs.IntP("port", "p", portDefault, "SOCKS5 listen port, replaces the port of --listen")
		metricsListen    = fs.String("metrics-listen", def.MetricsListen, "Prometheus /metrics listen address. Empty disables.")
		connectTimeout   = fs.Duration("connect-timeout", def.ConnectTimeout, "Timeout for upstream DNS lookup and TCP connect")
		handshakeTimeout = fs.Duration("handshake-timeout", def.HandshakeTimeout, "Timeout for the greeting and request exchange")
		maxSessions      = fs.Int64("max-sessions", def.MaxSessions, "Maximum concurrent sessions, 0 for unlimited")
		dnsServers       = fs.StringSlice("dns-server", nil, "DNS server for destination lookups (repeatable). Empty uses the system resolver.")
		dnsTimeout       = fs.Duration("dns-timeout", def.DNS.Timeout, "Timeout for each query to a --dns-server")
		dnsCacheTTL      = fs.Duration("dns-cache-ttl", def.DNS.CacheTTL, "How long resolved destinations are cached, 0 disables")
		logLevel         = fs.String("log-level", def.Log.Level, "Log level: trace|debug|info|warn|error")
		noColors         = fs.Bool("no-colors", def.Log.NoColors, "Disable colored log output")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if *path != "" {
		var err error
		if cfg, err = LoadFile(*path); err != nil {
			return nil, err
		}
	}

	if fs.Changed("listen") {
		cfg.Listen = *listen
	}
	if fs.Changed("port") {
		host, _, err := net.SplitHostPort(cfg.Listen)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
		}
		cfg.Listen = net.JoinHostPort(host, strconv.Itoa(*port))
	}
	if fs.Changed("metrics-listen") {
		cfg.MetricsListen = *metricsListen
	}
	if fs.Changed("connect-timeout") {
		cfg.ConnectTimeout = *connectTimeout
	}
	if fs.Changed("handshake-timeout") {
		cfg.HandshakeTimeout = *handshakeTimeout
	}
	if fs.Changed("max-sessions") {
		cfg.MaxSessions = *maxSessions
	}
	if fs.Changed("dns-server") {
		cfg.DNS.Servers = *dnsServers
	}
	if fs.Changed("dns-timeout") {
		cfg.DNS.Timeout = *dnsTimeout
	}
	if fs.Changed("dns-cache-ttl") {
		cfg.DNS.CacheTTL = *dnsCacheTTL
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("no-colors") {
		cfg.Log.NoColors = *noColors
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect timeout must be > 0")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake timeout must be > 0")
	}
	if c.MaxSessions < 0 {
		return errors.New("max sessions must be >= 0")
	}
	if c.DNS.Timeout < 0 {
		return errors.New("dns timeout must be >= 0")
	}
	if c.DNS.CacheTTL < 0 {
		return errors.New("dns cache ttl must be >= 0")
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	return nil
}
