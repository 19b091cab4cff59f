// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package streams

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/debrid"
	"github.com/streambridge/streambridge/internal/userconfig"
)

// ResolveDownload asks the user's provider for a direct URL to the torrent.
// The provider's classified error propagates unchanged so the route layer
// can map it onto the matching canned response.
func (s *Service) ResolveDownload(ctx context.Context, cfg *userconfig.UserConfig, mediaType, mediaID, torrentID string) (string, error) {
	provider, err := s.newProvider(cfg.Service, cfg.APIKey)
	if err != nil {
		return "", err
	}

	directURL, err := provider.ResolveDownload(ctx, debrid.DownloadRef{
		InfoHash: strings.ToLower(strings.TrimSpace(torrentID)),
	})
	if err != nil {
		log.Warn().
			Str("provider", provider.Name()).
			Str("mediaId", mediaID).
			Str("kind", debrid.KindOf(err).String()).
			Msg("download resolution failed")
		return "", err
	}

	// Log only the redacted form. Provider URLs embed session tokens in
	// their path; leaking them into logs is a credential leak.
	log.Info().
		Str("provider", provider.Name()).
		Str("mediaType", mediaType).
		Str("mediaId", mediaID).
		Str("url", RedactURL(directURL)).
		Msg("download resolved")

	return directURL, nil
}

// RedactToken masks the middle of a credential-bearing value, keeping the
// first three and last two characters. Short values are fully masked.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:3] + strings.Repeat("*", len(token)-5) + token[len(token)-2:]
}

// RedactURL redacts every path segment of a URL that looks like a token,
// preserving the host and overall shape for debugging.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return RedactToken(raw)
	}

	segments := strings.Split(parsed.Path, "/")
	for i, segment := range segments {
		if len(segment) > 12 {
			segments[i] = RedactToken(segment)
		}
	}
	parsed.Path = strings.Join(segments, "/")
	parsed.RawQuery = ""

	return parsed.String()
}
