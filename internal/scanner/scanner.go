// Package scanner discovers opportunities for an agent by fanning out over
// registered opportunity sources.
package scanner

import (
	"context"
	"sort"
	"sync"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/logging"
)

// Source produces opportunities for one concern (inbox, bounties, projects,
// posting nudges, ...).
//
// Rules every source must follow so results compose safely:
//   - Never fail upward: on any internal error, return an empty slice.
//   - SourceIDs must be globally unique and stable across repeated scans of
//     the same underlying event, unless re-surfacing is intentional (a nudge
//     may use a date-bucketed ID so it re-fires once per period).
//   - EstimatedValue is a ranking heuristic local to the source; only its
//     ordering matters.
type Source interface {
	Name() string
	Scan(ctx context.Context, actx core.AgentContext) []core.Opportunity
}

// Scanner fans out to every registered source concurrently, merges the
// results, removes duplicate sourceIDs, and ranks by estimated value.
type Scanner struct {
	sources []Source
}

// New creates a scanner over the given sources.
func New(sources ...Source) *Scanner {
	return &Scanner{sources: sources}
}

// Register appends a source. Not safe to call after scanning has started.
func (s *Scanner) Register(src Source) {
	s.sources = append(s.sources, src)
}

// ScanAll queries all sources in parallel and returns the merged, deduplicated
// opportunity list, highest estimated value first. Duplicate sourceIDs keep
// the first occurrence, in source registration order.
func (s *Scanner) ScanAll(ctx context.Context, actx core.AgentContext) []core.Opportunity {
	results := make([][]core.Opportunity, len(s.sources))

	var wg sync.WaitGroup
	for i, src := range s.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logging.Error("opportunity source %s panicked: %v", src.Name(), r)
					results[i] = nil
				}
			}()
			results[i] = src.Scan(ctx, actx)
		}(i, src)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var merged []core.Opportunity
	for _, batch := range results {
		for _, opp := range batch {
			if opp.SourceID == "" || seen[opp.SourceID] {
				continue
			}
			seen[opp.SourceID] = true
			merged = append(merged, opp)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].EstimatedValue > merged[j].EstimatedValue
	})

	return merged
}
