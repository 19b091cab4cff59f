// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package userconfig decodes the per-request configuration blob embedded in
// addon URLs. The blob is base64-encoded JSON produced by the configure page
// and is reconstructed fresh on every request; it is never persisted.
package userconfig

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnconfigured marks an empty or absent blob. The route layer turns
	// this into a static "please configure" stream instead of an error.
	ErrUnconfigured = errors.New("userconfig: not configured")

	// ErrMalformed marks a blob that is present but cannot be decoded.
	ErrMalformed = errors.New("userconfig: malformed configuration")
)

// Sort preference values accepted from the configure page.
const (
	SortQualityDesc = "quality-desc"
	SortSizeDesc    = "size-desc"
)

const (
	defaultMaxResults = 20
	maxMaxResults     = 50
)

// immutableKeys are server-enforced: a value a client smuggles into its blob
// is silently replaced with the server default. Stale cached configs from
// older page versions still carry them, so presence is not a hard failure.
var immutableKeys = []string{"jackettUrl", "jackettApiKey", "addonHost"}

// UserConfig is the effective per-request configuration.
type UserConfig struct {
	Service    string   `json:"service"`
	APIKey     string   `json:"apiKey"`
	MaxResults int      `json:"maxResults,omitempty"`
	MaxSizeGB  float64  `json:"maxSize,omitempty"`
	Sort       string   `json:"sort,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	Indexers   []string `json:"indexers,omitempty"`

	// Server-owned values, populated from the codec defaults.
	JackettURL    string `json:"jackettUrl,omitempty"`
	JackettAPIKey string `json:"jackettApiKey,omitempty"`
	AddonHost     string `json:"addonHost,omitempty"`

	clientIP string
}

// Configured reports whether the config carries enough to resolve streams.
func (u *UserConfig) Configured() bool {
	return u != nil && u.Service != "" && u.APIKey != ""
}

// WithClientIP returns a copy annotated with the requesting client's IP.
func (u *UserConfig) WithClientIP(ip string) *UserConfig {
	copied := *u
	copied.clientIP = ip
	return &copied
}

// ClientIP returns the request-time client IP annotation.
func (u *UserConfig) ClientIP() string {
	return u.clientIP
}

// Defaults holds the server-owned values restored over client input.
type Defaults struct {
	JackettURL    string
	JackettAPIKey string
	AddonHost     string
}

// Codec decodes configuration blobs against a fixed set of server defaults.
type Codec struct {
	defaults Defaults
}

func NewCodec(defaults Defaults) *Codec {
	return &Codec{defaults: defaults}
}

// Decode reconstructs a UserConfig from the URL path segment. An empty blob
// yields ErrUnconfigured; anything undecodable yields ErrMalformed. Settings
// are never partially applied: any failure returns a nil config.
func (c *Codec) Decode(raw string) (*UserConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnconfigured
	}

	decoded, err := decodeBase64(raw)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}

	// Decode into a raw map first so immutable-key overrides can be detected.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(decoded, &fields); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}

	cfg := &UserConfig{}
	if err := json.Unmarshal(decoded, cfg); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}

	for _, key := range immutableKeys {
		if _, present := fields[key]; present {
			log.Debug().Str("key", key).Msg("ignoring server-owned key in client configuration")
		}
	}

	// Restore server-owned values unconditionally.
	cfg.JackettURL = c.defaults.JackettURL
	cfg.JackettAPIKey = c.defaults.JackettAPIKey
	cfg.AddonHost = c.defaults.AddonHost

	cfg.normalize()

	return cfg, nil
}

func (u *UserConfig) normalize() {
	u.Service = strings.ToLower(strings.TrimSpace(u.Service))
	u.APIKey = strings.TrimSpace(u.APIKey)

	if u.MaxResults <= 0 {
		u.MaxResults = defaultMaxResults
	}
	if u.MaxResults > maxMaxResults {
		u.MaxResults = maxMaxResults
	}

	switch u.Sort {
	case SortQualityDesc, SortSizeDesc:
	default:
		u.Sort = SortQualityDesc
	}

	for i, lang := range u.Languages {
		u.Languages[i] = strings.ToLower(strings.TrimSpace(lang))
	}
}

// Configure pages and some players re-encode the blob with different base64
// variants; accept all four.
func decodeBase64(raw string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}

	var lastErr error
	for _, enc := range encodings {
		decoded, err := enc.DecodeString(raw)
		if err == nil {
			return decoded, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
