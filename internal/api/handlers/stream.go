// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streambridge/streambridge/internal/api/middleware"
	"github.com/streambridge/streambridge/internal/metrics"
	"github.com/streambridge/streambridge/internal/models"
	"github.com/streambridge/streambridge/internal/userconfig"
)

const addonName = "StreamBridge"

// StreamService is the orchestration dependency. Satisfied by
// *streams.Service.
type StreamService interface {
	GetStreams(ctx context.Context, cfg *userconfig.UserConfig, mediaType, mediaID string) []*models.StreamRecord
	ResolveDownload(ctx context.Context, cfg *userconfig.UserConfig, mediaType, mediaID, torrentID string) (string, error)
}

// StreamEntry is one stream in the addon response.
type StreamEntry struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	ExternalURL string `json:"externalUrl,omitempty"`
}

// StreamsResponse is the stream route envelope. The route always answers
// 200 with this shape, whatever went wrong underneath.
type StreamsResponse struct {
	Streams []StreamEntry `json:"streams"`
}

type StreamHandler struct {
	codec     *userconfig.Codec
	service   StreamService
	metrics   *metrics.Manager
	addonHost string
}

func NewStreamHandler(codec *userconfig.Codec, service StreamService, m *metrics.Manager, addonHost string) *StreamHandler {
	return &StreamHandler{
		codec:     codec,
		service:   service,
		metrics:   m,
		addonHost: addonHost,
	}
}

// GetStreams handles both the configured and unconfigured stream routes.
// An absent or undecodable blob degrades to a single "configure me" entry.
func (h *StreamHandler) GetStreams(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.metrics.StreamRequests.Inc()

	blob := chi.URLParam(r, "userConfig")
	mediaType := chi.URLParam(r, "mediaType")
	mediaID := trimJSONSuffix(chi.URLParam(r, "mediaID"))

	cfg, err := h.codec.Decode(blob)
	if err != nil {
		RespondJSON(w, http.StatusOK, StreamsResponse{Streams: []StreamEntry{h.configureEntry()}})
		return
	}

	cfg = cfg.WithClientIP(middleware.ClientIPFromContext(r.Context()))

	records := h.service.GetStreams(r.Context(), cfg, mediaType, mediaID)
	h.metrics.OrchestrationDuration.Observe(time.Since(start).Seconds())

	entries := make([]StreamEntry, 0, len(records))
	for _, record := range records {
		h.metrics.StreamsResolved.WithLabelValues(record.Provider).Inc()
		entries = append(entries, h.entryFor(blob, mediaType, mediaID, record))
	}

	RespondJSON(w, http.StatusOK, StreamsResponse{Streams: entries})
}

// entryFor maps a resolved record onto the wire shape. The URL defers the
// actual provider resolution to the download route so listing stays cheap.
func (h *StreamHandler) entryFor(blob, mediaType, mediaID string, record *models.StreamRecord) StreamEntry {
	name := addonName
	if record.Quality != "" {
		name += "\n" + record.Quality
	}

	var details []string
	if size := humanSize(record.FileSize); size != "" {
		details = append(details, size)
	}
	if record.Seeders > 0 {
		details = append(details, fmt.Sprintf("%d seeders", record.Seeders))
	}
	if record.Indexer != "" {
		details = append(details, record.Indexer)
	}

	title := record.Title
	if len(details) > 0 {
		title += "\n" + strings.Join(details, " | ")
	}

	url := record.URL
	if url == "" {
		url = joinAddonURL(h.addonHost, blob, "download", mediaType, mediaID, record.InfoHash)
	}

	return StreamEntry{
		Name:  name,
		Title: title,
		URL:   url,
	}
}

func (h *StreamHandler) configureEntry() StreamEntry {
	return StreamEntry{
		Name:        addonName,
		Title:       "Configure " + addonName + " to see streams",
		ExternalURL: joinAddonURL(h.addonHost, "configure"),
	}
}
