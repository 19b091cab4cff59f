// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debrid abstracts the cached-download services that turn a torrent
// reference into a direct premium URL. Providers are constructed fresh per
// request with the credentials from the decoded user configuration; nothing
// is shared across requests.
package debrid

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownProvider is returned by New for a service identifier no variant
// has registered. The registry validates at lookup time so handlers fail
// fast instead of discovering the problem mid-resolution.
var ErrUnknownProvider = errors.New("debrid: unknown provider")

// ErrorKind classifies provider failures into the closed set the download
// route maps onto canned responses. Callers switch on the kind and never on
// a provider's native error vocabulary.
type ErrorKind int

const (
	KindUnclassified ErrorKind = iota
	KindNotReady
	KindExpiredAPIKey
	KindNotPremium
	KindAccessDenied
	KindTwoFactorAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotReady:
		return "NOT_READY"
	case KindExpiredAPIKey:
		return "EXPIRED_API_KEY"
	case KindNotPremium:
		return "NOT_PREMIUM"
	case KindAccessDenied:
		return "ACCESS_DENIED"
	case KindTwoFactorAuth:
		return "TWO_FACTOR_AUTH"
	default:
		return "UNCLASSIFIED"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds a classified error. cause may be nil.
func NewError(provider string, kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, cause: cause}
}

// KindOf extracts the classification from an error chain. Anything that does
// not carry a classified provider error is KindUnclassified.
func KindOf(err error) ErrorKind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindUnclassified
}

// Candidate is a release the indexer surfaced, carrying just enough for a
// provider to check cache state and build a deferred download reference.
type Candidate struct {
	Title     string
	InfoHash  string
	MagnetURI string
	Size      int64
	Seeders   int
	Indexer   string
}

// Stream is a provider-resolved playable result. URL is set only when the
// provider hands back a direct link during resolution; otherwise the route
// layer builds a deferred /download URL from the info hash.
type Stream struct {
	Title    string
	InfoHash string
	URL      string
	FileName string
	FileSize int64
	Seeders  int
	Indexer  string
}

// DownloadRef identifies the torrent the download route wants resolved.
type DownloadRef struct {
	InfoHash  string
	MagnetURI string
}

// ResolveOptions bounds stream resolution.
type ResolveOptions struct {
	// MaxResults stops resolution early once this many streams are found.
	// Zero means no early stop.
	MaxResults int
}

// Provider is one debrid service variant. Both operations fail with a
// classified *Error; transport-level failures come back unclassified.
type Provider interface {
	Name() string
	ShortName() string
	ResolveStreams(ctx context.Context, candidates []Candidate, opts ResolveOptions) ([]Stream, error)
	ResolveDownload(ctx context.Context, ref DownloadRef) (string, error)
}

// Factory constructs a provider with per-request credentials.
type Factory func(apiKey string) Provider

var (
	registryMtx sync.RWMutex
	registry    = make(map[string]Factory)
)

// Register installs a provider factory under its service identifier.
// Variants register themselves from init.
func Register(id string, factory Factory) {
	registryMtx.Lock()
	defer registryMtx.Unlock()

	if _, dup := registry[id]; dup {
		panic(fmt.Sprintf("debrid: duplicate provider registration: %s", id))
	}
	registry[id] = factory
}

// New instantiates the provider variant for the given service identifier.
func New(service, apiKey string) (Provider, error) {
	registryMtx.RLock()
	factory, ok := registry[service]
	registryMtx.RUnlock()

	if !ok {
		return nil, errors.Wrap(ErrUnknownProvider, service)
	}
	return factory(apiKey), nil
}

// Services lists the registered service identifiers, sorted. The configure
// page uses this to populate its provider dropdown.
func Services() []string {
	registryMtx.RLock()
	defer registryMtx.RUnlock()

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
