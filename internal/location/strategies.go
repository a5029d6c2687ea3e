package location

import (
	"context"
	"time"

	"github.com/openmeet-team/fieldwork/internal/models"
)

// Request profiles for the two locator passes. Network fixes tolerate a long
// cache window and coarse accuracy; device fixes want a fresh high-accuracy
// reading.
var (
	networkOptions = Options{HighAccuracy: false, Timeout: 10 * time.Second, MaximumAge: 5 * time.Minute}
	deviceOptions  = Options{HighAccuracy: true, Timeout: 15 * time.Second, MaximumAge: 30 * time.Second}
)

// NetworkStrategy acquires a coarse network-based fix (cell/wifi). It is the
// first step of the chain because it resolves fastest and rarely prompts.
type NetworkStrategy struct {
	Locator Locator
}

func (s *NetworkStrategy) Name() string { return "network" }

func (s *NetworkStrategy) Locate(ctx context.Context) (*models.LocationRecord, error) {
	pos, err := s.Locator.CurrentPosition(ctx, networkOptions)
	if err != nil {
		return nil, err
	}
	return recordFromPosition(pos), nil
}

// DeviceStrategy asks the device for a high-accuracy fix and automatically
// retries once with network-accuracy parameters on failure.
type DeviceStrategy struct {
	Locator Locator
}

func (s *DeviceStrategy) Name() string { return "device" }

func (s *DeviceStrategy) Locate(ctx context.Context) (*models.LocationRecord, error) {
	pos, err := s.Locator.CurrentPosition(ctx, deviceOptions)
	if err != nil {
		// High accuracy commonly times out indoors; retry coarse.
		pos, err = s.Locator.CurrentPosition(ctx, networkOptions)
		if err != nil {
			return nil, err
		}
	}
	return recordFromPosition(pos), nil
}

// MappingStrategy resolves a position through an external mapping provider's
// geolocation endpoint.
type MappingStrategy struct {
	Provider Locator
}

func (s *MappingStrategy) Name() string { return "mapping" }

func (s *MappingStrategy) Locate(ctx context.Context) (*models.LocationRecord, error) {
	pos, err := s.Provider.CurrentPosition(ctx, networkOptions)
	if err != nil {
		return nil, err
	}
	return recordFromPosition(pos), nil
}

// ManualStrategy is the terminal fallback: it yields a record with no
// coordinates, flagged Manual so the caller can offer a retry or an explicit
// continuation without location evidence.
type ManualStrategy struct{}

func (s *ManualStrategy) Name() string { return "manual" }

func (s *ManualStrategy) Locate(ctx context.Context) (*models.LocationRecord, error) {
	return &models.LocationRecord{Manual: true}, nil
}

func recordFromPosition(pos Position) *models.LocationRecord {
	return &models.LocationRecord{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Accuracy:  pos.Accuracy,
	}
}
