// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/debrid"
	"github.com/streambridge/streambridge/internal/metrics"
	"github.com/streambridge/streambridge/internal/userconfig"
)

// kindVideos maps each classified failure onto its canned explanation
// video. Unclassified failures fall through to the generic error video.
var kindVideos = map[debrid.ErrorKind]string{
	debrid.KindNotReady:      "not_ready",
	debrid.KindExpiredAPIKey: "expired_api_key",
	debrid.KindNotPremium:    "not_premium",
	debrid.KindAccessDenied:  "access_denied",
	debrid.KindTwoFactorAuth: "two_factor_auth",
}

type DownloadHandler struct {
	codec   *userconfig.Codec
	service StreamService
	metrics *metrics.Manager
}

func NewDownloadHandler(codec *userconfig.Codec, service StreamService, m *metrics.Manager) *DownloadHandler {
	return &DownloadHandler{
		codec:   codec,
		service: service,
		metrics: m,
	}
}

// Resolve turns a deferred download URL into a redirect. Success redirects
// to the provider's direct URL; every failure redirects to a canned video
// that tells the user what happened instead of showing a broken player.
func (h *DownloadHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	mediaType := chi.URLParam(r, "mediaType")
	mediaID := chi.URLParam(r, "mediaID")
	torrentID := chi.URLParam(r, "torrentID")

	cfg, err := h.codec.Decode(chi.URLParam(r, "userConfig"))
	if err != nil {
		h.metrics.DownloadResolutions.WithLabelValues("unconfigured").Inc()
		h.redirectVideo(w, r, "error")
		return
	}

	directURL, err := h.service.ResolveDownload(r.Context(), cfg, mediaType, mediaID, torrentID)
	if err != nil {
		kind := debrid.KindOf(err)
		h.metrics.DownloadResolutions.WithLabelValues(kind.String()).Inc()

		name, ok := kindVideos[kind]
		if !ok {
			log.Error().Err(err).Str("mediaId", mediaID).Msg("unclassified download resolution failure")
			name = "error"
		}
		h.redirectVideo(w, r, name)
		return
	}

	h.metrics.DownloadResolutions.WithLabelValues("ok").Inc()
	http.Redirect(w, r, directURL, http.StatusFound)
}

func (h *DownloadHandler) redirectVideo(w http.ResponseWriter, r *http.Request, name string) {
	http.Redirect(w, r, "/videos/"+name+".mp4", http.StatusFound)
}
