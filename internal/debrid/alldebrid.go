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
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/buildinfo"
)

// AllDebridClient implements the Provider interface against the AllDebrid
// v4 API.
type AllDebridClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	agent      string
}

var _ Provider = (*AllDebridClient)(nil)

func init() {
	Register("alldebrid", func(apiKey string) Provider {
		return NewAllDebridClient(apiKey)
	})
}

func NewAllDebridClient(apiKey string) *AllDebridClient {
	return &AllDebridClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.alldebrid.com/v4",
		agent:      "streambridge",
	}
}

func (c *AllDebridClient) Name() string      { return "alldebrid" }
func (c *AllDebridClient) ShortName() string { return "AD" }

// allDebridResponse is the generic API response wrapper.
type allDebridResponse[T any] struct {
	Status string `json:"status"` // "success" or "error"
	Data   T      `json:"data,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AllDebridClient) classifyCode(code, message string) *Error {
	kind := KindUnclassified
	switch code {
	case "AUTH_BAD_APIKEY", "AUTH_MISSING_APIKEY", "AUTH_APIKEY_EXPIRED":
		kind = KindExpiredAPIKey
	case "AUTH_USER_BANNED", "ACCOUNT_INVALID":
		kind = KindAccessDenied
	case "AUTH_BLOCKED":
		// AllDebrid holds the session until the user confirms by mail.
		kind = KindTwoFactorAuth
	case "MUST_BE_PREMIUM", "FREE_TRIAL_LIMIT_REACHED", "NO_MORE_TRAFFIC":
		kind = KindNotPremium
	case "MAGNET_PROCESSING", "LINK_TEMPORARY_UNAVAILABLE", "DELAYED":
		kind = KindNotReady
	}
	return NewError(c.Name(), kind, message, nil)
}

// call performs an API request and unwraps the generic envelope into out.
func (c *AllDebridClient) call(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var bodyReader io.Reader
	if form != nil {
		form.Set("agent", c.agent)
		bodyReader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build alldebrid request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alldebrid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NewError(c.Name(), KindExpiredAPIKey, "authentication failed", nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read alldebrid response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode alldebrid response: %w", err)
	}
	return nil
}

func (c *AllDebridClient) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("agent", c.agent)
	return c.baseURL + path + "?" + query.Encode()
}

type adInstantData struct {
	Magnets []struct {
		Magnet  string `json:"magnet"`
		Hash    string `json:"hash"`
		Instant bool   `json:"instant"`
	} `json:"magnets"`
}

type adMagnet struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Hash  string `json:"hash"`
	Size  int64  `json:"size"`
	Ready bool   `json:"ready"`
}

type adUploadData struct {
	Magnets []adMagnet `json:"magnets"`
}

type adLink struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type adStatus struct {
	ID         int      `json:"id"`
	Filename   string   `json:"filename"`
	Size       int64    `json:"size"`
	Status     string   `json:"status"`
	StatusCode int      `json:"statusCode"`
	Links      []adLink `json:"links,omitempty"`
}

// adStatusData keeps magnets raw; the API returns an object when queried by
// id and an array otherwise.
type adStatusData struct {
	Magnets json.RawMessage `json:"magnets"`
}

type adUnlock struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Delayed  int    `json:"delayed,omitempty"`
}

const adStatusReady = 4

// ResolveStreams checks candidate hashes against the instant cache and
// returns a stream entry for every cached candidate.
func (c *AllDebridClient) ResolveStreams(ctx context.Context, candidates []Candidate, opts ResolveOptions) ([]Stream, error) {
	if c.apiKey == "" {
		return nil, NewError(c.Name(), KindExpiredAPIKey, "api key not configured", nil)
	}

	query := url.Values{}
	seen := 0
	for _, cand := range candidates {
		if h := strings.ToLower(strings.TrimSpace(cand.InfoHash)); h != "" {
			query.Add("magnets[]", h)
			seen++
		}
	}
	if seen == 0 {
		return nil, nil
	}

	var result allDebridResponse[adInstantData]
	if err := c.call(ctx, http.MethodGet, c.endpoint("/magnet/instant", query), nil, &result); err != nil {
		return nil, err
	}
	if result.Status != "success" {
		if result.Error != nil {
			return nil, c.classifyCode(result.Error.Code, result.Error.Message)
		}
		return nil, fmt.Errorf("alldebrid instant check failed")
	}

	cached := make(map[string]bool, len(result.Data.Magnets))
	for _, magnet := range result.Data.Magnets {
		if magnet.Instant {
			cached[strings.ToLower(magnet.Hash)] = true
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
		Msg("alldebrid availability check complete")

	return streams, nil
}

// ResolveDownload uploads the magnet, waits for ready state, and unlocks
// the largest video link.
func (c *AllDebridClient) ResolveDownload(ctx context.Context, ref DownloadRef) (string, error) {
	if c.apiKey == "" {
		return "", NewError(c.Name(), KindExpiredAPIKey, "api key not configured", nil)
	}

	magnet := ref.MagnetURI
	if magnet == "" {
		magnet = "magnet:?xt=urn:btih:" + strings.ToLower(ref.InfoHash)
	}

	form := url.Values{}
	form.Set("magnets[]", magnet)

	var uploaded allDebridResponse[adUploadData]
	if err := c.call(ctx, http.MethodPost, c.baseURL+"/magnet/upload", form, &uploaded); err != nil {
		return "", err
	}
	if uploaded.Status != "success" {
		if uploaded.Error != nil {
			return "", c.classifyCode(uploaded.Error.Code, uploaded.Error.Message)
		}
		return "", fmt.Errorf("alldebrid magnet upload failed")
	}
	if len(uploaded.Data.Magnets) == 0 {
		return "", fmt.Errorf("alldebrid returned no magnet data")
	}

	added := uploaded.Data.Magnets[0]
	if !added.Ready {
		return "", NewError(c.Name(), KindNotReady, "magnet not cached", nil)
	}

	status, err := c.magnetStatus(ctx, added.ID)
	if err != nil {
		return "", err
	}
	if status.StatusCode != adStatusReady {
		return "", NewError(c.Name(), KindNotReady, fmt.Sprintf("magnet status %s", status.Status), nil)
	}

	link := pickLargestAllDebridLink(status.Links)
	if link == "" {
		return "", NewError(c.Name(), KindNotReady, "no playable file available", nil)
	}

	return c.unlock(ctx, link)
}

func (c *AllDebridClient) magnetStatus(ctx context.Context, magnetID int) (*adStatus, error) {
	query := url.Values{}
	query.Set("id", strconv.Itoa(magnetID))

	var result allDebridResponse[adStatusData]
	if err := c.call(ctx, http.MethodGet, c.endpoint("/magnet/status", query), nil, &result); err != nil {
		return nil, err
	}
	if result.Status != "success" {
		if result.Error != nil {
			return nil, c.classifyCode(result.Error.Code, result.Error.Message)
		}
		return nil, fmt.Errorf("alldebrid status check failed")
	}
	if len(result.Data.Magnets) == 0 {
		return nil, fmt.Errorf("magnet not found")
	}

	var status adStatus
	if result.Data.Magnets[0] == '{' {
		if err := json.Unmarshal(result.Data.Magnets, &status); err != nil {
			return nil, fmt.Errorf("decode magnet status: %w", err)
		}
		return &status, nil
	}

	var magnets []adStatus
	if err := json.Unmarshal(result.Data.Magnets, &magnets); err != nil {
		return nil, fmt.Errorf("decode magnet status array: %w", err)
	}
	if len(magnets) == 0 {
		return nil, fmt.Errorf("magnet not found")
	}
	return &magnets[0], nil
}

func pickLargestAllDebridLink(links []adLink) string {
	var (
		best     string
		bestSize int64 = -1
	)
	for _, link := range links {
		if !isVideoFile(link.Filename) {
			continue
		}
		if link.Size > bestSize {
			best = link.Link
			bestSize = link.Size
		}
	}
	if best == "" && len(links) > 0 {
		best = links[0].Link
	}
	return best
}

func (c *AllDebridClient) unlock(ctx context.Context, link string) (string, error) {
	form := url.Values{}
	form.Set("link", link)

	var result allDebridResponse[adUnlock]
	if err := c.call(ctx, http.MethodPost, c.baseURL+"/link/unlock", form, &result); err != nil {
		return "", err
	}
	if result.Status != "success" {
		if result.Error != nil {
			return "", c.classifyCode(result.Error.Code, result.Error.Message)
		}
		return "", fmt.Errorf("alldebrid unlock failed")
	}
	if result.Data.Delayed > 0 {
		return "", NewError(c.Name(), KindNotReady, fmt.Sprintf("link processing, retry in %ds", result.Data.Delayed), nil)
	}
	if result.Data.Link == "" {
		return "", fmt.Errorf("alldebrid unlock returned no link")
	}

	log.Debug().
		Str("filename", result.Data.Filename).
		Int64("filesize", result.Data.Filesize).
		Msg("alldebrid link unlocked")

	return result.Data.Link, nil
}
