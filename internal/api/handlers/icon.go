// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/streambridge/streambridge/internal/services/icons"
)

type IconHandler struct {
	icons *icons.Service
}

func NewIconHandler(icons *icons.Service) *IconHandler {
	return &IconHandler{icons: icons}
}

// GetIcon serves the cached addon icon with a one hour cache lifetime.
func (h *IconHandler) GetIcon(w http.ResponseWriter, r *http.Request) {
	data := h.icons.Icon()
	if len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
