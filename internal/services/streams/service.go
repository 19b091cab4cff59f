// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package streams orchestrates the request pipeline: indexer query, debrid
// resolution with bounded fan-out, ranking, and persistence. The stream
// listing contract never surfaces a hard error; every failure degrades to a
// smaller (possibly empty) result.
package streams

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/streambridge/streambridge/internal/debrid"
	"github.com/streambridge/streambridge/internal/indexer"
	"github.com/streambridge/streambridge/internal/models"
	"github.com/streambridge/streambridge/internal/userconfig"
)

// availabilityBatchSize bounds how many hashes go into one provider
// availability request.
const availabilityBatchSize = 25

// infoHashBackfillLimit caps torrent blob downloads per request. Results
// beyond the cap that carry neither a hash nor a magnet are dropped.
const infoHashBackfillLimit = 5

var imdbIDPattern = regexp.MustCompile(`^tt\d+`)

// Searcher is the indexer dependency. Satisfied by *indexer.Client.
type Searcher interface {
	Search(ctx context.Context, req indexer.SearchRequest) ([]indexer.Result, error)
	FetchInfoHash(ctx context.Context, downloadURL string) (string, error)
}

// ProviderFactory builds a debrid provider from a service id and API key.
// Defaults to debrid.New; tests substitute their own.
type ProviderFactory func(service, apiKey string) (debrid.Provider, error)

// Service resolves stream listings end to end.
type Service struct {
	searcher    Searcher
	store       *models.StreamRecordStore
	newProvider ProviderFactory
	maxFanOut   int64
}

// NewService constructs the orchestrator. maxFanOut bounds concurrent
// provider availability batches per request.
func NewService(searcher Searcher, store *models.StreamRecordStore, maxFanOut int) *Service {
	if maxFanOut <= 0 {
		maxFanOut = 10
	}
	return &Service{
		searcher:    searcher,
		store:       store,
		newProvider: debrid.New,
		maxFanOut:   int64(maxFanOut),
	}
}

// GetStreams returns the ranked stream list for a media item. It never
// returns an error: indexer failures degrade to an empty candidate set,
// provider failures to an empty list, and persistence failures are logged
// without affecting the response.
func (s *Service) GetStreams(ctx context.Context, cfg *userconfig.UserConfig, mediaType, mediaID string) []*models.StreamRecord {
	if !cfg.Configured() {
		return []*models.StreamRecord{}
	}

	candidates := s.searchCandidates(ctx, cfg, mediaType, mediaID)
	if len(candidates) == 0 {
		return []*models.StreamRecord{}
	}

	provider, err := s.newProvider(cfg.Service, cfg.APIKey)
	if err != nil {
		log.Warn().Err(err).Str("service", cfg.Service).Msg("provider instantiation failed")
		return []*models.StreamRecord{}
	}

	resolved := s.resolveConcurrently(ctx, provider, candidates, cfg.MaxResults)
	if len(resolved) == 0 {
		return []*models.StreamRecord{}
	}

	records := s.buildRecords(resolved, provider.Name(), cfg, mediaType, mediaID)
	records = sortRecords(records, cfg.Sort)
	if len(records) > cfg.MaxResults && cfg.MaxResults > 0 {
		records = records[:cfg.MaxResults]
	}

	// Persist in response order. Resolution success never depends on
	// storage availability.
	for _, record := range records {
		if err := s.store.Append(ctx, record); err != nil {
			log.Error().Err(err).Str("title", record.Title).Msg("stream record append failed")
		}
	}

	return records
}

func (s *Service) searchCandidates(ctx context.Context, cfg *userconfig.UserConfig, mediaType, mediaID string) []debrid.Candidate {
	results, err := s.searcher.Search(ctx, indexer.SearchRequest{
		Query:     mediaID,
		MediaType: mediaType,
		Indexers:  cfg.Indexers,
	})
	if err != nil {
		log.Warn().Err(err).Str("mediaId", mediaID).Msg("indexer query failed, degrading to empty candidate set")
		return nil
	}

	results = filterByTitle(results, mediaID)

	backfills := 0
	candidates := make([]debrid.Candidate, 0, len(results))
	for _, result := range results {
		cand := result.Candidate()
		if cfg.MaxSizeGB > 0 && float64(cand.Size) > cfg.MaxSizeGB*1e9 {
			continue
		}
		if cand.InfoHash == "" {
			if result.Link == "" || backfills >= infoHashBackfillLimit {
				continue
			}
			backfills++
			hash, err := s.searcher.FetchInfoHash(ctx, result.Link)
			if err != nil {
				log.Debug().Err(err).Str("title", result.Title).Msg("info hash backfill failed")
				continue
			}
			cand.InfoHash = strings.ToLower(hash)
		}
		candidates = append(candidates, cand)
	}
	return candidates
}

// filterByTitle drops releases whose name has nothing to do with the query.
// Identifier queries (imdb ids) skip the check since the indexer already
// matched on the id.
func filterByTitle(results []indexer.Result, query string) []indexer.Result {
	if imdbIDPattern.MatchString(query) {
		return results
	}

	normalized := normalizeTitle(query)
	filtered := results[:0]
	for _, result := range results {
		release := rls.ParseString(result.Title)
		if fuzzy.MatchNormalizedFold(normalized, normalizeTitle(release.Title)) {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

func normalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	title = strings.ReplaceAll(title, "'", "")
	title = strings.ReplaceAll(title, ":", "")
	title = strings.ReplaceAll(title, "-", " ")
	return strings.Join(strings.Fields(title), " ")
}

// resolveConcurrently fans availability batches out to the provider with a
// bounded ceiling and merges the results back in candidate order.
func (s *Service) resolveConcurrently(ctx context.Context, provider debrid.Provider, candidates []debrid.Candidate, maxResults int) []debrid.Stream {
	batches := make([][]debrid.Candidate, 0, len(candidates)/availabilityBatchSize+1)
	for start := 0; start < len(candidates); start += availabilityBatchSize {
		end := start + availabilityBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batches = append(batches, candidates[start:end])
	}

	sem := semaphore.NewWeighted(s.maxFanOut)
	resolved := make([][]debrid.Stream, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(slot int, batch []debrid.Candidate) {
			defer wg.Done()
			defer sem.Release(1)

			streams, err := provider.ResolveStreams(ctx, batch, debrid.ResolveOptions{MaxResults: maxResults})
			if err != nil {
				log.Warn().Err(err).Str("provider", provider.Name()).Msg("stream resolution batch failed")
				return
			}
			resolved[slot] = streams
		}(i, batch)
	}
	wg.Wait()

	merged := make([]debrid.Stream, 0, len(candidates))
	for _, streams := range resolved {
		merged = append(merged, streams...)
	}
	return merged
}

func (s *Service) buildRecords(streams []debrid.Stream, providerName string, cfg *userconfig.UserConfig, mediaType, mediaID string) []*models.StreamRecord {
	records := make([]*models.StreamRecord, 0, len(streams))
	for _, stream := range streams {
		release := rls.ParseString(stream.Title)

		if len(cfg.Languages) > 0 && len(release.Language) > 0 && !languagesOverlap(cfg.Languages, release.Language) {
			continue
		}

		records = append(records, &models.StreamRecord{
			Title:     stream.Title,
			InfoHash:  stream.InfoHash,
			URL:       stream.URL,
			Quality:   release.Resolution,
			Languages: lowercaseAll(release.Language),
			Provider:  providerName,
			Indexer:   stream.Indexer,
			MediaType: mediaType,
			MediaID:   mediaID,
			FileSize:  stream.FileSize,
			Seeders:   stream.Seeders,
		})
	}
	return records
}

func languagesOverlap(wanted, present []string) bool {
	for _, want := range wanted {
		for _, have := range present {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

func lowercaseAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	lowered := make([]string, len(values))
	for i, v := range values {
		lowered[i] = strings.ToLower(v)
	}
	return lowered
}

// qualityRank orders resolutions best-first. Unknown resolutions rank last.
func qualityRank(resolution string) int {
	switch strings.ToLower(resolution) {
	case "2160p", "4320p":
		return 0
	case "1080p":
		return 1
	case "720p":
		return 2
	case "576p", "480p":
		return 3
	default:
		return 4
	}
}

// sortRecords orders the response by the user's sort preference. Ties keep
// indexer response order (the sort is stable).
func sortRecords(records []*models.StreamRecord, preference string) []*models.StreamRecord {
	switch preference {
	case userconfig.SortSizeDesc:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].FileSize > records[j].FileSize
		})
	default: // quality-desc
		sort.SliceStable(records, func(i, j int) bool {
			ri, rj := qualityRank(records[i].Quality), qualityRank(records[j].Quality)
			if ri != rj {
				return ri < rj
			}
			return records[i].Seeders > records[j].Seeders
		})
	}
	return records
}
