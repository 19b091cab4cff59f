// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/buildinfo"
)

// RealDebridClient implements the Provider interface against the
// Real-Debrid REST API.
type RealDebridClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

var _ Provider = (*RealDebridClient)(nil)

func init() {
	Register("realdebrid", func(apiKey string) Provider {
		return NewRealDebridClient(apiKey)
	})
}

func NewRealDebridClient(apiKey string) *RealDebridClient {
	return &RealDebridClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.real-debrid.com/rest/1.0",
	}
}

func (c *RealDebridClient) Name() string      { return "realdebrid" }
func (c *RealDebridClient) ShortName() string { return "RD" }

// realDebridError is the API's error envelope.
type realDebridError struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

// Real-Debrid numeric error codes that map onto the classified taxonomy.
const (
	rdErrBadToken      = 8
	rdErrPermission    = 9
	rdErrTwoFactor     = 10
	rdErrTwoFactorWait = 11
	rdErrAccountLocked = 14
	rdErrIPNotAllowed  = 22
)

func (c *RealDebridClient) classify(code int, message string, cause error) *Error {
	kind := KindUnclassified
	switch code {
	case rdErrBadToken:
		kind = KindExpiredAPIKey
	case rdErrPermission:
		kind = KindNotPremium
	case rdErrTwoFactor, rdErrTwoFactorWait:
		kind = KindTwoFactorAuth
	case rdErrAccountLocked, rdErrIPNotAllowed:
		kind = KindAccessDenied
	}
	return NewError(c.Name(), kind, message, cause)
}

// do performs an authorized request and maps API error envelopes to
// classified errors. The response body is returned for successful calls.
func (c *RealDebridClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("realdebrid request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read realdebrid response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr realDebridError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorCode != 0 {
			return nil, c.classify(apiErr.ErrorCode, apiErr.Error, nil)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, NewError(c.Name(), KindExpiredAPIKey, "authentication failed", nil)
		}
		if resp.StatusCode == http.StatusForbidden {
			return nil, NewError(c.Name(), KindAccessDenied, "request forbidden", nil)
		}
		return nil, fmt.Errorf("realdebrid returned status %d", resp.StatusCode)
	}

	return body, nil
}

type rdTorrentFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type rdTorrentInfo struct {
	ID       string          `json:"id"`
	Filename string          `json:"filename"`
	Hash     string          `json:"hash"`
	Bytes    int64           `json:"bytes"`
	Status   string          `json:"status"`
	Files    []rdTorrentFile `json:"files"`
	Links    []string        `json:"links"`
}

type rdUnrestrict struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Download string `json:"download"`
}

// ResolveStreams checks candidate hashes against the instant-availability
// cache and returns a stream entry for every cached candidate, stopping
// early once opts.MaxResults are found.
func (c *RealDebridClient) ResolveStreams(ctx context.Context, candidates []Candidate, opts ResolveOptions) ([]Stream, error) {
	if c.apiKey == "" {
		return nil, NewError(c.Name(), KindExpiredAPIKey, "api key not configured", nil)
	}

	hashes := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		if h := strings.ToLower(strings.TrimSpace(cand.InfoHash)); h != "" {
			hashes = append(hashes, h)
		}
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	endpoint := c.baseURL + "/torrents/instantAvailability/" + strings.Join(hashes, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build availability request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// hash -> variant list keyed by hoster; a non-empty entry means cached.
	var availability map[string]json.RawMessage
	if err := json.Unmarshal(body, &availability); err != nil {
		return nil, fmt.Errorf("decode availability response: %w", err)
	}

	cached := func(hash string) bool {
		raw, ok := availability[hash]
		if !ok {
			return false
		}
		trimmed := strings.TrimSpace(string(raw))
		return trimmed != "" && trimmed != "[]" && trimmed != "{}" && trimmed != "null"
	}

	streams := make([]Stream, 0, len(candidates))
	for _, cand := range candidates {
		hash := strings.ToLower(strings.TrimSpace(cand.InfoHash))
		if hash == "" || !cached(hash) {
			continue
		}
		streams = append(streams, Stream{
			Title:    cand.Title,
			InfoHash: hash,
			FileSize: cand.Size,
			Seeders:  cand.Seeders,
			Indexer:  cand.Indexer,
		})
		if opts.MaxResults > 0 && len(streams) >= opts.MaxResults {
			break
		}
	}

	log.Debug().
		Int("candidates", len(candidates)).
		Int("cached", len(streams)).
		Msg("realdebrid availability check complete")

	return streams, nil
}

// ResolveDownload adds the magnet, selects all files, and unrestricts the
// largest video link. A torrent that is not yet downloaded yields NOT_READY.
func (c *RealDebridClient) ResolveDownload(ctx context.Context, ref DownloadRef) (string, error) {
	if c.apiKey == "" {
		return "", NewError(c.Name(), KindExpiredAPIKey, "api key not configured", nil)
	}

	magnet := ref.MagnetURI
	if magnet == "" {
		magnet = "magnet:?xt=urn:btih:" + strings.ToLower(ref.InfoHash)
	}

	form := url.Values{}
	form.Set("magnet", magnet)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/torrents/addMagnet", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build add magnet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var added struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &added); err != nil {
		return "", fmt.Errorf("decode add magnet response: %w", err)
	}
	if added.ID == "" {
		return "", fmt.Errorf("add magnet returned no torrent id")
	}

	info, err := c.torrentInfo(ctx, added.ID)
	if err != nil {
		return "", err
	}

	if info.Status == "waiting_files_selection" {
		if err := c.selectAllFiles(ctx, added.ID); err != nil {
			return "", err
		}
		if info, err = c.torrentInfo(ctx, added.ID); err != nil {
			return "", err
		}
	}

	if info.Status != "downloaded" {
		return "", NewError(c.Name(), KindNotReady, fmt.Sprintf("torrent status %s", info.Status), nil)
	}

	link := c.pickLargestVideoLink(info)
	if link == "" {
		return "", NewError(c.Name(), KindNotReady, "no playable file available", nil)
	}

	return c.unrestrict(ctx, link)
}

func (c *RealDebridClient) torrentInfo(ctx context.Context, torrentID string) (*rdTorrentInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/torrents/info/"+url.PathEscape(torrentID), nil)
	if err != nil {
		return nil, fmt.Errorf("build torrent info request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var info rdTorrentInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode torrent info response: %w", err)
	}
	return &info, nil
}

func (c *RealDebridClient) selectAllFiles(ctx context.Context, torrentID string) error {
	form := url.Values{}
	form.Set("files", "all")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/torrents/selectFiles/"+url.PathEscape(torrentID), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build select files request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = c.do(req)
	return err
}

// pickLargestVideoLink matches selected files to their links by position and
// returns the link of the largest video file.
func (c *RealDebridClient) pickLargestVideoLink(info *rdTorrentInfo) string {
	var (
		best     string
		bestSize int64 = -1
	)

	linkIdx := 0
	for _, file := range info.Files {
		if file.Selected != 1 {
			continue
		}
		if linkIdx >= len(info.Links) {
			break
		}
		link := info.Links[linkIdx]
		linkIdx++

		if !isVideoFile(file.Path) {
			continue
		}
		if file.Bytes > bestSize {
			best = link
			bestSize = file.Bytes
		}
	}

	if best == "" && len(info.Links) > 0 {
		best = info.Links[0]
	}
	return best
}

func (c *RealDebridClient) unrestrict(ctx context.Context, link string) (string, error) {
	form := url.Values{}
	form.Set("link", link)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/unrestrict/link", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build unrestrict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var unlocked rdUnrestrict
	if err := json.Unmarshal(body, &unlocked); err != nil {
		return "", fmt.Errorf("decode unrestrict response: %w", err)
	}
	if unlocked.Download == "" {
		return "", fmt.Errorf("unrestrict returned no download url")
	}

	log.Debug().
		Str("filename", unlocked.Filename).
		Int64("filesize", unlocked.Filesize).
		Msg("realdebrid link unrestricted")

	return unlocked.Download, nil
}
