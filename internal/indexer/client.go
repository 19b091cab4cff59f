// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package indexer queries the external Jackett instance for candidate
// releases. Failures here are expected to degrade upstream: the orchestrator
// treats an indexer error as an empty candidate set.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/buildinfo"
)

const maxTorrentDownloadBytes int64 = 16 << 20 // 16 MiB safety limit for torrent blobs

// Client talks to the Jackett aggregate results API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration

	// scratchDir spools fetched torrent blobs; the hourly tmp cleanup job
	// sweeps it. Empty disables spooling.
	scratchDir string
}

// NewClient creates a Jackett client. scratchDir is where fetched torrent
// blobs are spooled; empty keeps them in memory only.
func NewClient(baseURL, apiKey string, timeoutSeconds int, scratchDir string) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	timeout := time.Duration(timeoutSeconds) * time.Second

	if scratchDir != "" {
		if err := os.MkdirAll(scratchDir, 0o755); err != nil {
			log.Error().Err(err).Str("dir", scratchDir).Msg("Failed to create torrent scratch directory")
			scratchDir = ""
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		scratchDir: scratchDir,
	}
}

// SearchRequest narrows an aggregate search.
type SearchRequest struct {
	Query     string
	MediaType string
	// Indexers restricts the search to the user's enabled trackers.
	// Empty means all configured indexers.
	Indexers []string
}

// Search queries all (or the selected) indexers and returns the raw result
// list in Jackett's response order. Transient failures are retried twice
// before surfacing.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("search query is required")
	}

	endpoint, err := url.JoinPath(c.baseURL, "api", "v2.0", "indexers", "all", "results")
	if err != nil {
		return nil, fmt.Errorf("build search url: %w", err)
	}

	query := url.Values{}
	query.Set("apikey", c.apiKey)
	query.Set("Query", req.Query)
	query.Add("Category[]", CategoryFor(req.MediaType))
	for _, indexer := range req.Indexers {
		if trimmed := strings.TrimSpace(indexer); trimmed != "" {
			query.Add("Tracker[]", trimmed)
		}
	}

	var results []Result
	err = retry.Do(
		func() error {
			var attemptErr error
			results, attemptErr = c.search(ctx, endpoint+"?"+query.Encode())
			return attemptErr
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
	)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("query", req.Query).
		Str("mediaType", req.MediaType).
		Int("results", len(results)).
		Msg("jackett search complete")

	return results, nil
}

func (c *Client) search(ctx context.Context, searchURL string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jackett search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("jackett search returned status %d", resp.StatusCode)
	}

	var envelope searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	return envelope.Results, nil
}

// FetchInfoHash downloads the torrent blob behind downloadURL and computes
// its info hash. Used to backfill results whose API entry carries neither an
// info hash nor a magnet URI.
func (c *Client) FetchInfoHash(ctx context.Context, downloadURL string) (string, error) {
	if strings.TrimSpace(downloadURL) == "" {
		return "", fmt.Errorf("download URL is required")
	}

	// Normalise relative URLs
	if !strings.HasPrefix(downloadURL, "http://") && !strings.HasPrefix(downloadURL, "https://") {
		downloadURL = c.baseURL + "/" + strings.TrimLeft(downloadURL, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Accept", "application/x-bittorrent, application/octet-stream")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("torrent download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("torrent download returned status %d", resp.StatusCode)
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentDownloadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read torrent blob: %w", err)
	}
	if int64(len(blob)) > maxTorrentDownloadBytes {
		return "", fmt.Errorf("torrent blob exceeds %d bytes", maxTorrentDownloadBytes)
	}

	c.spoolBlob(blob)

	info, err := metainfo.Load(bytes.NewReader(blob))
	if err != nil {
		return "", fmt.Errorf("parse torrent blob: %w", err)
	}

	return info.HashInfoBytes().HexString(), nil
}

// spoolBlob writes the blob to the scratch directory. Best effort; the
// computed hash does not depend on it.
func (c *Client) spoolBlob(blob []byte) {
	if c.scratchDir == "" {
		return
	}

	f, err := os.CreateTemp(c.scratchDir, "*.torrent")
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create torrent scratch file")
		return
	}
	defer f.Close()

	if _, err := f.Write(blob); err != nil {
		log.Debug().Err(err).Str("file", f.Name()).Msg("Failed to write torrent scratch file")
	}
}
