// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// videoNames whitelists the canned explanation videos the download route
// redirects to. Anything else on the route is a 404.
var videoNames = map[string]bool{
	"not_ready":       true,
	"expired_api_key": true,
	"not_premium":     true,
	"access_denied":   true,
	"two_factor_auth": true,
	"error":           true,
}

type VideosHandler struct {
	dir string
}

// NewVideosHandler serves canned videos from dataDir/videos. The directory
// is created so operators can drop replacements in without a restart.
func NewVideosHandler(dataDir string) (*VideosHandler, error) {
	dir := filepath.Join(dataDir, "videos")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &VideosHandler{dir: dir}, nil
}

// GetVideo serves one canned video. A known name with no file on disk
// answers 204 so players show a blank clip instead of an error page.
func (h *VideosHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(chi.URLParam(r, "name"), ".mp4")
	if !videoNames[name] {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.dir, name+".mp4")
	if _, err := os.Stat(path); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}
