// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/streambridge/streambridge/internal/debrid"
)

// MediaType values accepted by the stream routes.
const (
	MediaTypeMovie  = "movie"
	MediaTypeSeries = "series"
)

// Torznab top-level categories.
const (
	categoryMovies = "2000"
	categoryTV     = "5000"
)

// CategoryFor maps a media type to its Torznab category. Unknown types fall
// back to the movie category.
func CategoryFor(mediaType string) string {
	if strings.EqualFold(mediaType, MediaTypeSeries) {
		return categoryTV
	}
	return categoryMovies
}

// Result is a single release from the Jackett results API.
type Result struct {
	Tracker      string    `json:"Tracker"`
	TrackerID    string    `json:"TrackerId"`
	Title        string    `json:"Title"`
	GUID         string    `json:"Guid"`
	Link         string    `json:"Link"`
	MagnetURI    string    `json:"MagnetUri"`
	InfoHash     string    `json:"InfoHash"`
	Size         int64     `json:"Size"`
	Seeders      int       `json:"Seeders"`
	Peers        int       `json:"Peers"`
	CategoryDesc string    `json:"CategoryDesc"`
	PublishDate  time.Time `json:"PublishDate"`
}

// searchResponse is the envelope Jackett wraps aggregate results in.
type searchResponse struct {
	Results []Result `json:"Results"`
}

// infoHash returns the release's info hash, deriving it from the magnet URI
// when the API did not provide it directly.
func (r *Result) infoHash() string {
	if hash := strings.ToLower(strings.TrimSpace(r.InfoHash)); hash != "" {
		return hash
	}
	if r.MagnetURI == "" {
		return ""
	}

	magnet, err := metainfo.ParseMagnetUri(r.MagnetURI)
	if err != nil {
		return ""
	}
	return magnet.InfoHash.HexString()
}

// Candidate converts the result into a provider candidate. Results with no
// resolvable info hash yield a candidate with an empty hash; callers may
// backfill it from the torrent blob.
func (r *Result) Candidate() debrid.Candidate {
	return debrid.Candidate{
		Title:     r.Title,
		InfoHash:  r.infoHash(),
		MagnetURI: r.MagnetURI,
		Size:      r.Size,
		Seeders:   r.Seeders,
		Indexer:   r.Tracker,
	}
}
