// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package userconfig

import (
	"encoding/base64"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeConfig(t *testing.T, payload string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func testCodec() *Codec {
	return NewCodec(Defaults{
		JackettURL:    "http://127.0.0.1:9117",
		JackettAPIKey: "server-jackett-key",
		AddonHost:     "https://addon.example.com",
	})
}

func TestDecodeMalformedBlobs(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{name: "not_base64", blob: "!!!not-base64!!!"},
		{name: "base64_but_not_json", blob: base64.StdEncoding.EncodeToString([]byte("not json at all"))},
		{name: "json_array_instead_of_object", blob: base64.StdEncoding.EncodeToString([]byte(`["a","b"]`))},
		{name: "truncated_json", blob: base64.StdEncoding.EncodeToString([]byte(`{"service":"realdeb`))},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := testCodec().Decode(tt.blob)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)
			assert.Nil(t, cfg, "no partially applied settings on failure")
		})
	}
}

func TestDecodeEmptyBlobIsUnconfigured(t *testing.T) {
	for _, blob := range []string{"", "   "} {
		cfg, err := testCodec().Decode(blob)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnconfigured))
		assert.False(t, errors.Is(err, ErrMalformed))
		assert.Nil(t, cfg)
	}
}

func TestDecodeRestoresImmutableKeys(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "client_overrides_jackett_url",
			payload: `{"service":"realdebrid","apiKey":"abc","jackettUrl":"http://evil.example.com"}`,
		},
		{
			name:    "client_overrides_jackett_api_key",
			payload: `{"service":"realdebrid","apiKey":"abc","jackettApiKey":"stolen"}`,
		},
		{
			name:    "client_overrides_addon_host",
			payload: `{"service":"realdebrid","apiKey":"abc","addonHost":"http://mitm.example.com"}`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := testCodec().Decode(encodeConfig(t, tt.payload))
			require.NoError(t, err)

			assert.Equal(t, "http://127.0.0.1:9117", cfg.JackettURL)
			assert.Equal(t, "server-jackett-key", cfg.JackettAPIKey)
			assert.Equal(t, "https://addon.example.com", cfg.AddonHost)
		})
	}
}

func TestDecodeBase64Variants(t *testing.T) {
	payload := []byte(`{"service":"alldebrid","apiKey":"xyz"}`)

	tests := []struct {
		name string
		blob string
	}{
		{name: "standard", blob: base64.StdEncoding.EncodeToString(payload)},
		{name: "url_safe", blob: base64.URLEncoding.EncodeToString(payload)},
		{name: "raw_standard", blob: base64.RawStdEncoding.EncodeToString(payload)},
		{name: "raw_url_safe", blob: base64.RawURLEncoding.EncodeToString(payload)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := testCodec().Decode(tt.blob)
			require.NoError(t, err)
			assert.Equal(t, "alldebrid", cfg.Service)
			assert.Equal(t, "xyz", cfg.APIKey)
		})
	}
}

func TestDecodeNormalization(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, cfg *UserConfig)
	}{
		{
			name:    "defaults_applied",
			payload: `{"service":"ReadDebrid ","apiKey":" abc "}`,
			check: func(t *testing.T, cfg *UserConfig) {
				assert.Equal(t, "readdebrid", cfg.Service)
				assert.Equal(t, "abc", cfg.APIKey)
				assert.Equal(t, 20, cfg.MaxResults)
				assert.Equal(t, SortQualityDesc, cfg.Sort)
			},
		},
		{
			name:    "max_results_clamped",
			payload: `{"service":"realdebrid","apiKey":"abc","maxResults":500}`,
			check: func(t *testing.T, cfg *UserConfig) {
				assert.Equal(t, 50, cfg.MaxResults)
			},
		},
		{
			name:    "unknown_sort_falls_back",
			payload: `{"service":"realdebrid","apiKey":"abc","sort":"alphabetical"}`,
			check: func(t *testing.T, cfg *UserConfig) {
				assert.Equal(t, SortQualityDesc, cfg.Sort)
			},
		},
		{
			name:    "size_desc_kept",
			payload: `{"service":"realdebrid","apiKey":"abc","sort":"size-desc"}`,
			check: func(t *testing.T, cfg *UserConfig) {
				assert.Equal(t, SortSizeDesc, cfg.Sort)
			},
		},
		{
			name:    "languages_lowercased",
			payload: `{"service":"realdebrid","apiKey":"abc","languages":["EN"," Fr "]}`,
			check: func(t *testing.T, cfg *UserConfig) {
				assert.Equal(t, []string{"en", "fr"}, cfg.Languages)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := testCodec().Decode(encodeConfig(t, tt.payload))
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestWithClientIPDoesNotMutateOriginal(t *testing.T) {
	cfg, err := testCodec().Decode(encodeConfig(t, `{"service":"realdebrid","apiKey":"abc"}`))
	require.NoError(t, err)

	annotated := cfg.WithClientIP("203.0.113.9")
	assert.Equal(t, "203.0.113.9", annotated.ClientIP())
	assert.Empty(t, cfg.ClientIP())
}

func TestConfigured(t *testing.T) {
	cfg, err := testCodec().Decode(encodeConfig(t, `{"service":"realdebrid","apiKey":"abc"}`))
	require.NoError(t, err)
	assert.True(t, cfg.Configured())

	missingKey, err := testCodec().Decode(encodeConfig(t, `{"service":"realdebrid"}`))
	require.NoError(t, err)
	assert.False(t, missingKey.Configured())
}
