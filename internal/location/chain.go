// Package location implements the ordered geolocation fallback chain used to
// collect positional evidence for in-person interviews.
package location

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/openmeet-team/fieldwork/internal/models"
	"github.com/openmeet-team/fieldwork/internal/telemetry"
)

// Sentinel errors surfaced by locators and strategies.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable")
	ErrTimeout          = errors.New("location request timed out")
	ErrChainExhausted   = errors.New("all location strategies failed")
)

// Position is a raw geolocation fix from a locator.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // meters
}

// Options tune a single locator request, mirroring geolocation APIs:
// high-accuracy requests take longer and drain more battery, cached fixes up
// to MaximumAge old are acceptable.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Locator is the injected device/host capability that produces position
// fixes. Implementations must honor ctx cancellation.
type Locator interface {
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
}

// Address is a reverse-geocoded description of a position.
type Address struct {
	DisplayName string
	City        string
	State       string
	Country     string
}

// AddressLookup resolves coordinates to an address. Lookups are best-effort;
// the chain substitutes placeholders on failure.
type AddressLookup interface {
	Reverse(ctx context.Context, lat, lon float64) (Address, error)
}

// Strategy is one step of the fallback chain.
type Strategy interface {
	Name() string
	Locate(ctx context.Context) (*models.LocationRecord, error)
}

// Placeholder address fields used when reverse geocoding fails.
const (
	PlaceholderAddress = "Address unavailable"
	PlaceholderRegion  = "Unknown"
)

// Chain runs its strategies sequentially, first success wins. Strategies are
// deliberately not raced concurrently: on real devices parallel requests
// trigger duplicate permission prompts.
type Chain struct {
	strategies []Strategy
	lookup     AddressLookup
	clock      func() time.Time
}

// NewChain builds a chain over the given strategies. lookup may be nil, in
// which case every record gets placeholder address fields.
func NewChain(lookup AddressLookup, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, lookup: lookup, clock: time.Now}
}

// Acquire walks the chain until a strategy yields a record. Records with
// coordinates get a best-effort reverse geocode. The chain fails only when
// every strategy fails.
func (c *Chain) Acquire(ctx context.Context) (*models.LocationRecord, error) {
	var lastErr error

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := s.Locate(ctx)
		if err != nil || rec == nil {
			telemetry.LocationStrategyTotal.WithLabelValues(s.Name(), "failure").Inc()
			if err != nil {
				log.Printf("location strategy %s failed: %v", s.Name(), err)
				lastErr = err
			}
			continue
		}

		telemetry.LocationStrategyTotal.WithLabelValues(s.Name(), "success").Inc()
		rec.Source = s.Name()
		if rec.Timestamp.IsZero() {
			rec.Timestamp = c.clock()
		}
		c.annotate(ctx, rec)
		return rec, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrChainExhausted
}

// annotate fills address fields via reverse geocoding, substituting
// placeholders when the lookup fails or the record has no coordinates.
func (c *Chain) annotate(ctx context.Context, rec *models.LocationRecord) {
	if rec.Address != "" {
		return
	}

	if c.lookup != nil && rec.HasCoordinates() {
		addr, err := c.lookup.Reverse(ctx, rec.Latitude, rec.Longitude)
		if err == nil {
			rec.Address = addr.DisplayName
			rec.City = addr.City
			rec.State = addr.State
			rec.Country = addr.Country
			return
		}
		log.Printf("reverse geocode failed for %s fix: %v", rec.Source, err)
	}

	rec.Address = PlaceholderAddress
	rec.City = PlaceholderRegion
	rec.State = PlaceholderRegion
	rec.Country = PlaceholderRegion
}
