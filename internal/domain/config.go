// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	// AddonHost is the externally reachable base URL used when building
	// manifest, configure and deferred download links. Server-owned.
	AddonHost string `toml:"addonHost" mapstructure:"addonHost"`

	// Indexer (Jackett) defaults. These are server-owned: values a client
	// smuggles into its configuration blob are ignored in favor of these.
	JackettURL     string `toml:"jackettUrl" mapstructure:"jackettUrl"`
	JackettAPIKey  string `toml:"jackettApiKey" mapstructure:"jackettApiKey"`
	JackettTimeout int    `toml:"jackettTimeout" mapstructure:"jackettTimeout"`

	// Indexers names the Jackett indexers offered on the configure page.
	// Empty offers the aggregate "all" endpoint only.
	Indexers []string `toml:"indexers" mapstructure:"indexers"`

	// Rate limiting (fixed window, per client IP)
	RateLimitWindowSeconds int `toml:"rateLimitWindowSeconds" mapstructure:"rateLimitWindowSeconds"`
	RateLimitMaxRequests   int `toml:"rateLimitMaxRequests" mapstructure:"rateLimitMaxRequests"`

	// TrustedProxies lists CIDRs (or single IPs) whose forwarded-IP header
	// is believed. Empty means the raw connection address is always used.
	TrustedProxies     []string `toml:"trustedProxies" mapstructure:"trustedProxies"`
	TrustedProxyHeader string   `toml:"trustedProxyHeader" mapstructure:"trustedProxyHeader"`

	// IconURL optionally points at a custom addon icon fetched into the
	// icon cache. Empty keeps the generated default.
	IconURL string `toml:"iconUrl" mapstructure:"iconUrl"`

	// Stream record retention and persistence cadence
	StreamRetentionHours    int `toml:"streamRetentionHours" mapstructure:"streamRetentionHours"`
	AutosaveIntervalMinutes int `toml:"autosaveIntervalMinutes" mapstructure:"autosaveIntervalMinutes"`

	// MaxFanOut bounds concurrent debrid resolutions per request
	MaxFanOut int `toml:"maxFanOut" mapstructure:"maxFanOut"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	PprofEnabled bool `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
}

// ParseTrustedProxies parses the configured proxy ranges. Entries can be
// CIDR (10.0.0.0/8) or a single IP, which is treated as /32 or /128.
func (c *Config) ParseTrustedProxies() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))

	for _, raw := range c.TrustedProxies {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trustedProxies entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trustedProxies entry %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, nil
}

// RateLimitWindow returns the configured window duration with a sane floor.
func (c *Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// StreamRetention returns the record retention horizon.
func (c *Config) StreamRetention() time.Duration {
	if c.StreamRetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.StreamRetentionHours) * time.Hour
}

// AutosaveInterval returns the store checkpoint cadence.
func (c *Config) AutosaveInterval() time.Duration {
	if c.AutosaveIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.AutosaveIntervalMinutes) * time.Minute
}
