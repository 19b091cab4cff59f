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

func configureRouter(renderer Renderer) *chi.Mux {
	h := NewConfigureHandler(testCodec(), renderer, []string{"indexer-a", "indexer-b"})

	r := chi.NewRouter()
	r.Get("/configure", h.GetConfigure)
	r.Get("/{userConfig}/configure", h.GetConfigure)
	return r
}

func TestConfigurePageLists(t *testing.T) {
	rec := httptest.NewRecorder()
	configureRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/configure", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var page ConfigurePage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))

	assert.Equal(t, []string{"alldebrid", "premiumize", "realdebrid"}, page.Services)
	assert.Equal(t, []string{"indexer-a", "indexer-b"}, page.Indexers)
	assert.Equal(t, []string{"quality-desc", "size-desc"}, page.SortOptions)
	assert.Nil(t, page.Current)
}

func TestConfigurePageEchoesCurrentWithoutAPIKey(t *testing.T) {
	rec := httptest.NewRecorder()
	configureRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+configuredBlob+"/configure", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var page ConfigurePage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))

	require.NotNil(t, page.Current)
	assert.Equal(t, "realdebrid", page.Current.Service)
	assert.Equal(t, 20, page.Current.MaxResults)

	// The raw body must not echo the debrid API key anywhere.
	assert.NotContains(t, rec.Body.String(), "abc")
}

type recordingRenderer struct {
	page ConfigurePage
}

func (r *recordingRenderer) Render(w http.ResponseWriter, page ConfigurePage) error {
	r.page = page
	w.WriteHeader(http.StatusOK)
	return nil
}

func TestConfigureUsesPluggableRenderer(t *testing.T) {
	renderer := &recordingRenderer{}

	rec := httptest.NewRecorder()
	configureRouter(renderer).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/configure", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, renderer.page.Services)
}
