// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package icons caches the addon icon under the data directory. A custom
// icon can be fetched from a configured URL; without one a generated
// placeholder is served so the addon always has an icon to present.
package icons

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/buildinfo"
)

const (
	iconDirName  = "icons"
	iconFileName = "addon.png"

	maxIconBytes int64 = 2 << 20 // 2 MiB
)

type Service struct {
	iconDir string
	iconURL string

	httpClient *http.Client

	mu     sync.RWMutex
	cached []byte
}

// NewService prepares the icon cache directory. iconURL may be empty, in
// which case Refresh is a no-op and the generated default is served.
func NewService(dataDir, iconURL string) (*Service, error) {
	iconDir := filepath.Join(dataDir, iconDirName)
	if err := os.MkdirAll(iconDir, 0o755); err != nil {
		return nil, fmt.Errorf("create icon directory: %w", err)
	}

	return &Service{
		iconDir:    iconDir,
		iconURL:    iconURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Icon returns the current addon icon bytes. Priority: in-memory cache,
// cached file on disk, generated default.
func (s *Service) Icon() []byte {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return cached
	}

	if data, err := os.ReadFile(filepath.Join(s.iconDir, iconFileName)); err == nil && len(data) > 0 {
		s.store(data)
		return data
	}

	data := defaultIcon()
	s.store(data)
	return data
}

// Refresh fetches the configured icon URL into the cache. Transient fetch
// failures are retried; a persistent failure keeps the previous icon.
func (s *Service) Refresh(ctx context.Context) error {
	if s.iconURL == "" {
		return nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			var fetchErr error
			data, fetchErr = s.fetch(ctx)
			return fetchErr
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
	)
	if err != nil {
		return fmt.Errorf("refresh addon icon: %w", err)
	}

	path := filepath.Join(s.iconDir, iconFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write icon cache: %w", err)
	}

	s.store(data)
	log.Debug().Str("url", s.iconURL).Int("bytes", len(data)).Msg("addon icon refreshed")
	return nil
}

func (s *Service) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.iconURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build icon request: %w", err)
	}
	req.Header.Set("Accept", "image/png, image/*")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("icon fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("icon fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return nil, fmt.Errorf("read icon body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("icon fetch returned empty body")
	}

	return data, nil
}

func (s *Service) store(data []byte) {
	s.mu.Lock()
	s.cached = data
	s.mu.Unlock()
}

// defaultIcon renders a simple two-tone placeholder so a fresh install
// serves a valid PNG without shipping a binary asset.
func defaultIcon() []byte {
	const size = 256
	img := image.NewNRGBA(image.Rect(0, 0, size, size))

	background := color.NRGBA{R: 24, G: 26, B: 34, A: 255}
	accent := color.NRGBA{R: 96, G: 165, B: 250, A: 255}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, background)
		}
	}

	// Play-triangle glyph.
	for y := size / 4; y < size*3/4; y++ {
		span := size / 4
		offset := y - size/4
		if offset > size/4 {
			offset = size/2 - offset
		}
		for x := span; x < span+offset*2 && x < size*3/4; x++ {
			img.Set(x, y, accent)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
