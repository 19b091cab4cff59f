// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestRouter() *chi.Mux {
	h := NewManifestHandler(testCodec(), "1.2.3", "https://addon.example.com")

	r := chi.NewRouter()
	r.Get("/manifest.json", h.GetManifest)
	r.Get("/{userConfig}/manifest.json", h.GetManifest)
	return r
}

func decodeManifest(t *testing.T, rec *httptest.ResponseRecorder) Manifest {
	t.Helper()
	var m Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestManifestUnconfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	manifestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/manifest.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeManifest(t, rec)

	assert.Equal(t, "com.streambridge.addon", m.ID)
	assert.Equal(t, "1.2.3", m.Version)
	assert.Equal(t, "StreamBridge", m.Name)
	assert.Equal(t, []string{"stream"}, m.Resources)
	assert.Equal(t, []string{"movie", "series"}, m.Types)
	assert.Equal(t, []string{"tt"}, m.IDPrefixes)
	assert.NotNil(t, m.Catalogs)
	assert.True(t, m.BehaviorHints.Configurable)
	assert.True(t, m.BehaviorHints.ConfigurationRequired)
}

func TestManifestConfiguredCarriesProviderShortName(t *testing.T) {
	rec := httptest.NewRecorder()
	manifestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+configuredBlob+"/manifest.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeManifest(t, rec)

	assert.Equal(t, "StreamBridge RD", m.Name)
	assert.False(t, m.BehaviorHints.ConfigurationRequired)
}

func TestManifestMalformedBlobFallsBackToUnconfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	manifestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/%21%21%21/manifest.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeManifest(t, rec)

	assert.Equal(t, "StreamBridge", m.Name)
	assert.True(t, m.BehaviorHints.ConfigurationRequired)
}
