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

// PremiumizeClient implements the Provider interface against the
// Premiumize.me API.
type PremiumizeClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

var _ Provider = (*PremiumizeClient)(nil)

func init() {
	Register("premiumize", func(apiKey string) Provider {
		return NewPremiumizeClient(apiKey)
	})
}

func NewPremiumizeClient(apiKey string) *PremiumizeClient {
	return &PremiumizeClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://www.premiumize.me/api",
	}
}

func (c *PremiumizeClient) Name() string      { return "premiumize" }
func (c *PremiumizeClient) ShortName() string { return "PM" }

// Premiumize has no structured error codes; the status/message pair is the
// whole error surface, so classification keys off the message here and
// stays inside this variant.
func (c *PremiumizeClient) classifyMessage(message string) *Error {
	lowered := strings.ToLower(message)
	kind := KindUnclassified
	switch {
	case strings.Contains(lowered, "customer") || strings.Contains(lowered, "login") || strings.Contains(lowered, "apikey"):
		kind = KindExpiredAPIKey
	case strings.Contains(lowered, "premium"):
		kind = KindNotPremium
	case strings.Contains(lowered, "banned") || strings.Contains(lowered, "blocked"):
		kind = KindAccessDenied
	case strings.Contains(lowered, "not ready") || strings.Contains(lowered, "transfer"):
		kind = KindNotReady
	}
	return NewError(c.Name(), kind, message, nil)
}

func (c *PremiumizeClient) call(ctx context.Context, method, path string, query, form url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", c.apiKey)
	endpoint := c.baseURL + path + "?" + query.Encode()

	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build premiumize request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("premiumize request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return NewError(c.Name(), KindExpiredAPIKey, "authentication failed", nil)
	}
	if resp.StatusCode == http.StatusForbidden {
		return NewError(c.Name(), KindAccessDenied, "request forbidden", nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read premiumize response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode premiumize response: %w", err)
	}
	return nil
}

type pmCacheCheck struct {
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Response []bool   `json:"response"`
	Filename []string `json:"filename,omitempty"`
}

type pmContent struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Link string `json:"link"`
}

type pmDirectDL struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Content []pmContent `json:"content"`
}

// ResolveStreams checks candidate hashes against the cache endpoint and
// returns a stream entry for every cached candidate.
func (c *PremiumizeClient) ResolveStreams(ctx context.Context, candidates []Candidate, opts ResolveOptions) ([]Stream, error) {
	if c.apiKey == "" {
		return nil, NewError(c.Name(), KindExpiredAPIKey, "api key not configured", nil)
	}

	hashes := make([]string, 0, len(candidates))
	query := url.Values{}
	for _, cand := range candidates {
		if h := strings.ToLower(strings.TrimSpace(cand.InfoHash)); h != "" {
			hashes = append(hashes, h)
			query.Add("items[]", h)
		}
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	var result pmCacheCheck
	if err := c.call(ctx, http.MethodGet, "/cache/check", query, nil, &result); err != nil {
		return nil, err
	}
	if result.Status != "success" {
		return nil, c.classifyMessage(result.Message)
	}

	cached := make(map[string]bool, len(hashes))
	for i, hash := range hashes {
		if i < len(result.Response) && result.Response[i] {
			cached[hash] = true
		}
	}

	streams := make([]Stream, 0, len(candidates))
	for _, cand := range candidates {
		hash := strings.ToLower(strings.TrimSpace(cand.InfoHash))
		if hash == "" || !cached[hash] {
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
		Msg("premiumize availability check complete")

	return streams, nil
}

// ResolveDownload asks for a direct download of the magnet and returns the
// link of the largest video file.
func (c *PremiumizeClient) ResolveDownload(ctx context.Context, ref DownloadRef) (string, error) {
	if c.apiKey == "" {
		return "", NewError(c.Name(), KindExpiredAPIKey, "api key not configured", nil)
	}

	magnet := ref.MagnetURI
	if magnet == "" {
		magnet = "magnet:?xt=urn:btih:" + strings.ToLower(ref.InfoHash)
	}

	form := url.Values{}
	form.Set("src", magnet)

	var result pmDirectDL
	if err := c.call(ctx, http.MethodPost, "/transfer/directdl", nil, form, &result); err != nil {
		return "", err
	}
	if result.Status != "success" {
		return "", c.classifyMessage(result.Message)
	}
	if len(result.Content) == 0 {
		return "", NewError(c.Name(), KindNotReady, "transfer has no content yet", nil)
	}

	var (
		best     string
		bestSize int64 = -1
	)
	for _, content := range result.Content {
		if !isVideoFile(content.Path) {
			continue
		}
		if content.Size > bestSize {
			best = content.Link
			bestSize = content.Size
		}
	}
	if best == "" {
		best = result.Content[0].Link
	}
	if best == "" {
		return "", NewError(c.Name(), KindNotReady, "no playable file available", nil)
	}

	log.Debug().
		Int("files", len(result.Content)).
		Msg("premiumize direct download resolved")

	return best, nil
}
