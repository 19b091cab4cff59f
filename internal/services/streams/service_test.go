// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package streams

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streambridge/streambridge/internal/database"
	"github.com/streambridge/streambridge/internal/debrid"
	"github.com/streambridge/streambridge/internal/indexer"
	"github.com/streambridge/streambridge/internal/models"
	"github.com/streambridge/streambridge/internal/userconfig"
)

type fakeSearcher struct {
	results []indexer.Result
	err     error

	// hashes maps download links to backfilled info hashes.
	hashes     map[string]string
	fetchErr   error
	fetchCalls int
}

func (f *fakeSearcher) Search(ctx context.Context, req indexer.SearchRequest) ([]indexer.Result, error) {
	return f.results, f.err
}

func (f *fakeSearcher) FetchInfoHash(ctx context.Context, downloadURL string) (string, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	if hash, ok := f.hashes[downloadURL]; ok {
		return hash, nil
	}
	return "", errors.Errorf("no torrent blob behind %s", downloadURL)
}

type fakeProvider struct {
	name       string
	streams    []debrid.Stream
	resolveErr error

	downloadURL string
	downloadErr error
}

func (f *fakeProvider) Name() string      { return f.name }
func (f *fakeProvider) ShortName() string { return "FP" }

func (f *fakeProvider) ResolveStreams(ctx context.Context, candidates []debrid.Candidate, opts debrid.ResolveOptions) ([]debrid.Stream, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	// Keep only streams whose hash appears in this batch, preserving order.
	batch := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		batch[cand.InfoHash] = true
	}
	var out []debrid.Stream
	for _, stream := range f.streams {
		if batch[stream.InfoHash] {
			out = append(out, stream)
		}
	}
	return out, nil
}

func (f *fakeProvider) ResolveDownload(ctx context.Context, ref debrid.DownloadRef) (string, error) {
	return f.downloadURL, f.downloadErr
}

func testService(t *testing.T, searcher Searcher, provider debrid.Provider) (*Service, *models.StreamRecordStore) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "streambridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := models.NewStreamRecordStore(db)
	svc := NewService(searcher, store, 4)
	svc.newProvider = func(service, apiKey string) (debrid.Provider, error) {
		if provider == nil {
			return nil, errors.Wrap(debrid.ErrUnknownProvider, service)
		}
		return provider, nil
	}
	return svc, store
}

func configuredUser() *userconfig.UserConfig {
	cfg, err := userconfig.NewCodec(userconfig.Defaults{
		JackettURL:    "http://127.0.0.1:9117",
		JackettAPIKey: "server-key",
		AddonHost:     "https://addon.example.com",
	}).Decode("eyJzZXJ2aWNlIjoicmVhbGRlYnJpZCIsImFwaUtleSI6ImFiYyJ9") // {"service":"realdebrid","apiKey":"abc"}
	if err != nil {
		panic(err)
	}
	return cfg
}

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	hashC = "cccccccccccccccccccccccccccccccccccccccc"
)

func TestGetStreamsResolvesAndPersists(t *testing.T) {
	searcher := &fakeSearcher{results: []indexer.Result{
		{Tracker: "indexer-a", Title: "The.Matrix.1999.2160p.BluRay", InfoHash: hashA, Size: 9_000_000_000, Seeders: 10},
		{Tracker: "indexer-a", Title: "The.Matrix.1999.1080p.WEB", InfoHash: hashB, Size: 5_000_000_000, Seeders: 50},
		{Tracker: "indexer-b", Title: "The.Matrix.1999.720p.HDTV", InfoHash: hashC, Size: 1_000_000_000, Seeders: 3},
	}}
	provider := &fakeProvider{name: "realdebrid", streams: []debrid.Stream{
		{Title: "The.Matrix.1999.1080p.WEB", InfoHash: hashB, FileSize: 5_000_000_000, Seeders: 50, Indexer: "indexer-a"},
		{Title: "The.Matrix.1999.720p.HDTV", InfoHash: hashC, FileSize: 1_000_000_000, Seeders: 3, Indexer: "indexer-b"},
	}}

	svc, store := testService(t, searcher, provider)
	records := svc.GetStreams(context.Background(), configuredUser(), "movie", "tt0133093")

	require.Len(t, records, 2)
	assert.Equal(t, "1080p", records[0].Quality)
	assert.Equal(t, "720p", records[1].Quality)
	assert.Equal(t, "realdebrid", records[0].Provider)
	assert.Equal(t, "movie", records[0].MediaType)
	assert.Equal(t, "tt0133093", records[0].MediaID)

	// Exactly the returned records were appended, in order.
	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestGetStreamsNeverErrors(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
		provider debrid.Provider
	}{
		{
			name:     "indexer_failure",
			searcher: &fakeSearcher{err: errors.New("jackett unreachable")},
			provider: &fakeProvider{name: "realdebrid"},
		},
		{
			name: "provider_failure",
			searcher: &fakeSearcher{results: []indexer.Result{
				{Tracker: "indexer-a", Title: "Release", InfoHash: hashA},
			}},
			provider: &fakeProvider{name: "realdebrid", resolveErr: debrid.NewError("realdebrid", debrid.KindExpiredAPIKey, "", nil)},
		},
		{
			name: "unknown_provider",
			searcher: &fakeSearcher{results: []indexer.Result{
				{Tracker: "indexer-a", Title: "Release", InfoHash: hashA},
			}},
			provider: nil,
		},
		{
			name:     "both_unusable",
			searcher: &fakeSearcher{err: errors.New("down")},
			provider: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := testService(t, tt.searcher, tt.provider)
			records := svc.GetStreams(context.Background(), configuredUser(), "movie", "tt0133093")
			require.NotNil(t, records)
			assert.Empty(t, records)
		})
	}
}

func TestGetStreamsUnconfigured(t *testing.T) {
	svc, _ := testService(t, &fakeSearcher{}, &fakeProvider{name: "realdebrid"})

	records := svc.GetStreams(context.Background(), &userconfig.UserConfig{}, "movie", "tt0133093")
	require.NotNil(t, records)
	assert.Empty(t, records)
}

func TestGetStreamsSortBySize(t *testing.T) {
	searcher := &fakeSearcher{results: []indexer.Result{
		{Tracker: "indexer-a", Title: "Small.Release.2160p", InfoHash: hashA, Size: 1_000, Seeders: 1},
		{Tracker: "indexer-a", Title: "Big.Release.720p", InfoHash: hashB, Size: 9_000, Seeders: 1},
	}}
	provider := &fakeProvider{name: "realdebrid", streams: []debrid.Stream{
		{Title: "Small.Release.2160p", InfoHash: hashA, FileSize: 1_000},
		{Title: "Big.Release.720p", InfoHash: hashB, FileSize: 9_000},
	}}

	svc, _ := testService(t, searcher, provider)

	cfg := configuredUser()
	cfg.Sort = userconfig.SortSizeDesc
	records := svc.GetStreams(context.Background(), cfg, "movie", "tt0133093")

	require.Len(t, records, 2)
	assert.Equal(t, int64(9_000), records[0].FileSize)
	assert.Equal(t, int64(1_000), records[1].FileSize)
}

func TestGetStreamsRespectsMaxSize(t *testing.T) {
	searcher := &fakeSearcher{results: []indexer.Result{
		{Tracker: "indexer-a", Title: "Huge.Release.2160p", InfoHash: hashA, Size: 50_000_000_000},
		{Tracker: "indexer-a", Title: "Modest.Release.1080p", InfoHash: hashB, Size: 4_000_000_000},
	}}
	provider := &fakeProvider{name: "realdebrid", streams: []debrid.Stream{
		{Title: "Huge.Release.2160p", InfoHash: hashA, FileSize: 50_000_000_000},
		{Title: "Modest.Release.1080p", InfoHash: hashB, FileSize: 4_000_000_000},
	}}

	svc, _ := testService(t, searcher, provider)

	cfg := configuredUser()
	cfg.MaxSizeGB = 10
	records := svc.GetStreams(context.Background(), cfg, "movie", "tt0133093")

	require.Len(t, records, 1)
	assert.Equal(t, "Modest.Release.1080p", records[0].Title)
}

func TestGetStreamsBackfillsInfoHashFromTorrentBlob(t *testing.T) {
	searcher := &fakeSearcher{
		results: []indexer.Result{
			{Tracker: "indexer-a", Title: "The.Matrix.1999.1080p.WEB", InfoHash: hashA, Size: 5_000_000_000, Seeders: 50},
			{Tracker: "indexer-b", Title: "The.Matrix.1999.720p.HDTV", Link: "https://jackett.example/dl/b.torrent", Size: 1_000_000_000, Seeders: 3},
		},
		hashes: map[string]string{
			"https://jackett.example/dl/b.torrent": strings.ToUpper(hashB),
		},
	}
	provider := &fakeProvider{name: "realdebrid", streams: []debrid.Stream{
		{Title: "The.Matrix.1999.1080p.WEB", InfoHash: hashA, FileSize: 5_000_000_000},
		{Title: "The.Matrix.1999.720p.HDTV", InfoHash: hashB, FileSize: 1_000_000_000},
	}}

	svc, _ := testService(t, searcher, provider)
	records := svc.GetStreams(context.Background(), configuredUser(), "movie", "tt0133093")

	require.Len(t, records, 2)
	assert.Equal(t, 1, searcher.fetchCalls)
	assert.Equal(t, hashB, records[1].InfoHash)
}

func TestGetStreamsDropsCandidatesWhenBackfillFails(t *testing.T) {
	searcher := &fakeSearcher{
		results: []indexer.Result{
			{Tracker: "indexer-a", Title: "Kept.Release.1080p", InfoHash: hashA},
			{Tracker: "indexer-b", Title: "Dropped.Release.720p", Link: "https://jackett.example/dl/gone.torrent"},
		},
		fetchErr: errors.New("torrent download returned status 404"),
	}
	provider := &fakeProvider{name: "realdebrid", streams: []debrid.Stream{
		{Title: "Kept.Release.1080p", InfoHash: hashA},
	}}

	svc, _ := testService(t, searcher, provider)
	records := svc.GetStreams(context.Background(), configuredUser(), "movie", "tt0133093")

	require.Len(t, records, 1)
	assert.Equal(t, "Kept.Release.1080p", records[0].Title)
}

func TestGetStreamsBoundsBackfillDownloads(t *testing.T) {
	var results []indexer.Result
	for i := 0; i < infoHashBackfillLimit+3; i++ {
		results = append(results, indexer.Result{
			Tracker: "indexer-a",
			Title:   fmt.Sprintf("Hashless.Release.%d.1080p", i),
			Link:    fmt.Sprintf("https://jackett.example/dl/%d.torrent", i),
		})
	}
	searcher := &fakeSearcher{
		results:  results,
		fetchErr: errors.New("torrent download returned status 502"),
	}

	svc, _ := testService(t, searcher, &fakeProvider{name: "realdebrid"})
	records := svc.GetStreams(context.Background(), configuredUser(), "movie", "tt0133093")

	assert.Empty(t, records)
	assert.Equal(t, infoHashBackfillLimit, searcher.fetchCalls)
}

func TestResolveDownloadPropagatesClassifiedError(t *testing.T) {
	provider := &fakeProvider{
		name:        "realdebrid",
		downloadErr: debrid.NewError("realdebrid", debrid.KindNotReady, "still downloading", nil),
	}
	svc, _ := testService(t, &fakeSearcher{}, provider)

	_, err := svc.ResolveDownload(context.Background(), configuredUser(), "movie", "tt0133093", hashA)
	require.Error(t, err)
	assert.Equal(t, debrid.KindNotReady, debrid.KindOf(err))
}

func TestResolveDownloadReturnsURL(t *testing.T) {
	provider := &fakeProvider{name: "realdebrid", downloadURL: "https://download.example.com/tokens/abc123/movie.mkv"}
	svc, _ := testService(t, &fakeSearcher{}, provider)

	directURL, err := svc.ResolveDownload(context.Background(), configuredUser(), "movie", "tt0133093", hashA)
	require.NoError(t, err)
	assert.Equal(t, "https://download.example.com/tokens/abc123/movie.mkv", directURL)
}

func TestRedactToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{name: "long_token", token: "abcdefghijklmnop", want: "abc***********op"},
		{name: "short_token", token: "abcd", want: "****"},
		{name: "empty", token: "", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			redacted := RedactToken(tt.token)
			assert.Equal(t, tt.want, redacted)
			if len(tt.token) > 8 {
				assert.NotContains(t, redacted, tt.token[3:len(tt.token)-2])
			}
		})
	}
}

func TestRedactURLMasksTokenSegments(t *testing.T) {
	redacted := RedactURL("https://download.example.com/d/SESSIONTOKEN1234567890/movie.mkv?auth=secret")

	assert.Contains(t, redacted, "download.example.com")
	assert.NotContains(t, redacted, "SESSIONTOKEN1234567890")
	assert.NotContains(t, redacted, "auth=secret")
}

func TestFilterByTitle(t *testing.T) {
	results := []indexer.Result{
		{Title: "The.Matrix.1999.1080p.BluRay"},
		{Title: "Totally.Different.Film.2020.1080p"},
	}

	filtered := filterByTitle(results, "The Matrix")
	require.Len(t, filtered, 1)
	assert.Equal(t, "The.Matrix.1999.1080p.BluRay", filtered[0].Title)

	// Identifier queries skip the fuzzy filter.
	byID := filterByTitle([]indexer.Result{
		{Title: "Whatever.Name.1080p"},
	}, "tt0133093")
	assert.Len(t, byID, 1)
}

func TestQualityRank(t *testing.T) {
	assert.Less(t, qualityRank("2160p"), qualityRank("1080p"))
	assert.Less(t, qualityRank("1080p"), qualityRank("720p"))
	assert.Less(t, qualityRank("720p"), qualityRank("480p"))
	assert.Less(t, qualityRank("480p"), qualityRank(""))
}
