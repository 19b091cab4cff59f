// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streambridge/streambridge/internal/debrid"
	"github.com/streambridge/streambridge/internal/userconfig"
)

// Manifest is the addon descriptor players fetch before anything else.
type Manifest struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Logo        string   `json:"logo,omitempty"`
	Resources   []string `json:"resources"`
	Types       []string `json:"types"`
	IDPrefixes  []string `json:"idPrefixes"`
	Catalogs    []any    `json:"catalogs"`

	BehaviorHints ManifestBehaviorHints `json:"behaviorHints"`
}

type ManifestBehaviorHints struct {
	Configurable          bool `json:"configurable"`
	ConfigurationRequired bool `json:"configurationRequired"`
}

type ManifestHandler struct {
	codec     *userconfig.Codec
	version   string
	addonHost string
}

func NewManifestHandler(codec *userconfig.Codec, version, addonHost string) *ManifestHandler {
	return &ManifestHandler{
		codec:     codec,
		version:   version,
		addonHost: addonHost,
	}
}

// GetManifest serves both manifest routes. A decodable blob with a known
// provider marks the addon configured and tags the name with the provider's
// short name so users can tell installs apart.
func (h *ManifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	manifest := Manifest{
		ID:          "com.streambridge.addon",
		Version:     h.version,
		Name:        addonName,
		Description: "Debrid-backed torrent streams from your own Jackett indexers",
		Logo:        joinAddonURL(h.addonHost, "logo.png"),
		Resources:   []string{"stream"},
		Types:       []string{"movie", "series"},
		IDPrefixes:  []string{"tt"},
		Catalogs:    []any{},
		BehaviorHints: ManifestBehaviorHints{
			Configurable:          true,
			ConfigurationRequired: true,
		},
	}

	cfg, err := h.codec.Decode(chi.URLParam(r, "userConfig"))
	if err == nil && cfg.Configured() {
		manifest.BehaviorHints.ConfigurationRequired = false
		if provider, perr := debrid.New(cfg.Service, cfg.APIKey); perr == nil {
			manifest.Name = addonName + " " + provider.ShortName()
		}
	}

	RespondJSON(w, http.StatusOK, manifest)
}
