// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/domain"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// IPResolver determines the client identity behind optional reverse proxies.
// The forwarded-IP header is only believed when the connecting address falls
// inside one of the trusted proxy ranges.
type IPResolver struct {
	header   string
	prefixes []netip.Prefix
}

// NewIPResolver builds a resolver from the runtime configuration. Invalid
// trustedProxies entries disable header trust entirely rather than partially.
func NewIPResolver(cfg *domain.Config) *IPResolver {
	resolver := &IPResolver{header: cfg.TrustedProxyHeader}

	prefixes, err := cfg.ParseTrustedProxies()
	if err != nil {
		log.Error().Err(err).Msg("Invalid trustedProxies configuration, forwarded headers will be ignored")
		return resolver
	}
	resolver.prefixes = prefixes

	return resolver
}

// ClientIP resolves the client address for a request. Falls back to the raw
// RemoteAddr host when the peer is not a trusted proxy or the header is
// absent or unparseable.
func (res *IPResolver) ClientIP(r *http.Request) string {
	peer, err := parseRemoteAddrIP(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	if res.header == "" || len(res.prefixes) == 0 || !res.trusted(peer) {
		return peer.String()
	}

	forwarded := r.Header.Get(res.header)
	if forwarded == "" {
		return peer.String()
	}

	// Leftmost entry is the originating client; later hops are proxies.
	first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
	addr, err := netip.ParseAddr(strings.Trim(first, "[]"))
	if err != nil {
		log.Debug().Str("header", res.header).Str("value", forwarded).Msg("Unparseable forwarded-IP header, using peer address")
		return peer.String()
	}

	return addr.Unmap().String()
}

func (res *IPResolver) trusted(addr netip.Addr) bool {
	for _, prefix := range res.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Middleware stores the resolved client IP in the request context.
func (res *IPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey, res.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext returns the IP stored by the resolver middleware.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

func parseRemoteAddrIP(remoteAddr string) (netip.Addr, error) {
	trimmed := strings.TrimSpace(remoteAddr)
	if addr, err := netip.ParseAddr(strings.Trim(trimmed, "[]")); err == nil {
		return addr.Unmap(), nil
	}

	host, _, err := net.SplitHostPort(trimmed)
	if err != nil {
		return netip.Addr{}, err
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, err
	}

	return addr.Unmap(), nil
}
