// Package quota refreshes demographic quota buckets from the response
// aggregation source.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/models"
)

// DefaultTTL bounds how stale bucket state may be. Gating decisions use the
// latest refreshed state, never an indefinitely cached one.
const DefaultTTL = 30 * time.Second

// CountsProvider aggregates completed-interview counts per canonical gender
// label for a survey. The Postgres store implements this.
type CountsProvider interface {
	GenderResponseCounts(ctx context.Context, surveyID uuid.UUID) (map[string]int, error)
}

// LimitsProvider supplies the configured per-gender limits for a survey.
type LimitsProvider func(surveyID uuid.UUID) map[string]int

type cacheEntry struct {
	buckets   map[string]models.QuotaBucket
	fetchedAt time.Time
}

// Source combines configured limits with live counts into quota buckets,
// cached per survey for a short TTL.
type Source struct {
	counts CountsProvider
	limits LimitsProvider
	ttl    time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	cache map[uuid.UUID]cacheEntry
}

// NewSource creates a quota source with the default TTL.
func NewSource(counts CountsProvider, limits LimitsProvider) *Source {
	return &Source{
		counts: counts,
		limits: limits,
		ttl:    DefaultTTL,
		clock:  time.Now,
		cache:  make(map[uuid.UUID]cacheEntry),
	}
}

// GenderCounts returns the current bucket state for a survey, refreshing
// from the aggregation source when the cached state has expired.
func (s *Source) GenderCounts(ctx context.Context, surveyID uuid.UUID) (map[string]models.QuotaBucket, error) {
	s.mu.Lock()
	entry, ok := s.cache[surveyID]
	fresh := ok && s.clock().Sub(entry.fetchedAt) < s.ttl
	s.mu.Unlock()

	if fresh {
		return entry.buckets, nil
	}

	counts, err := s.counts.GenderResponseCounts(ctx, surveyID)
	if err != nil {
		// Serve stale state over failing the mutation outright; the
		// authoritative completion-time check will retry.
		if ok {
			return entry.buckets, nil
		}
		return nil, err
	}

	buckets := buildBuckets(s.limits(surveyID), counts)

	s.mu.Lock()
	s.cache[surveyID] = cacheEntry{buckets: buckets, fetchedAt: s.clock()}
	s.mu.Unlock()

	return buckets, nil
}

// Invalidate drops the cached state for a survey, forcing the next read to
// refresh. Called after a submission lands.
func (s *Source) Invalidate(surveyID uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, surveyID)
	s.mu.Unlock()
}

func buildBuckets(limits map[string]int, counts map[string]int) map[string]models.QuotaBucket {
	buckets := make(map[string]models.QuotaBucket, len(limits))
	for label, limit := range limits {
		canonical := models.CanonicalGender(label)
		current := counts[canonical]
		remaining := limit - current
		if remaining < 0 {
			remaining = 0
		}
		buckets[canonical] = models.QuotaBucket{
			Limit:        limit,
			CurrentCount: current,
			Remaining:    remaining,
			IsFull:       current >= limit,
		}
	}
	return buckets
}
