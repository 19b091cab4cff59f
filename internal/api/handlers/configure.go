// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streambridge/streambridge/internal/debrid"
	"github.com/streambridge/streambridge/internal/userconfig"
)

// ConfigurePage is the data handed to the configure renderer: everything a
// configuration UI needs to build the blob.
type ConfigurePage struct {
	Services    []string `json:"services"`
	Indexers    []string `json:"indexers,omitempty"`
	SortOptions []string `json:"sortOptions"`

	// Current reflects the decoded blob when re-configuring. The debrid
	// API key is never echoed back.
	Current *ConfigureCurrent `json:"current,omitempty"`
}

type ConfigureCurrent struct {
	Service    string   `json:"service"`
	MaxResults int      `json:"maxResults"`
	MaxSizeGB  float64  `json:"maxSize,omitempty"`
	Sort       string   `json:"sort"`
	Languages  []string `json:"languages,omitempty"`
	Indexers   []string `json:"indexers,omitempty"`
}

// Renderer turns the configure page data into a response. The default
// renders JSON; an HTML frontend plugs in its own.
type Renderer interface {
	Render(w http.ResponseWriter, page ConfigurePage) error
}

// JSONRenderer is the default renderer.
type JSONRenderer struct{}

func (JSONRenderer) Render(w http.ResponseWriter, page ConfigurePage) error {
	RespondJSON(w, http.StatusOK, page)
	return nil
}

type ConfigureHandler struct {
	codec    *userconfig.Codec
	renderer Renderer
	indexers []string
}

func NewConfigureHandler(codec *userconfig.Codec, renderer Renderer, indexers []string) *ConfigureHandler {
	if renderer == nil {
		renderer = JSONRenderer{}
	}
	return &ConfigureHandler{
		codec:    codec,
		renderer: renderer,
		indexers: indexers,
	}
}

// GetConfigure serves the configure page data, with the decoded current
// settings when a blob is present.
func (h *ConfigureHandler) GetConfigure(w http.ResponseWriter, r *http.Request) {
	page := ConfigurePage{
		Services:    debrid.Services(),
		Indexers:    h.indexers,
		SortOptions: []string{userconfig.SortQualityDesc, userconfig.SortSizeDesc},
	}

	if cfg, err := h.codec.Decode(chi.URLParam(r, "userConfig")); err == nil {
		page.Current = &ConfigureCurrent{
			Service:    cfg.Service,
			MaxResults: cfg.MaxResults,
			MaxSizeGB:  cfg.MaxSizeGB,
			Sort:       cfg.Sort,
			Languages:  cfg.Languages,
			Indexers:   cfg.Indexers,
		}
	}

	if err := h.renderer.Render(w, page); err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to render configure page")
	}
}
