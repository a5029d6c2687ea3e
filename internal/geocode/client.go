// Package geocode wraps the external mapping provider: reverse geocoding of
// coordinates and network-derived geolocation.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/openmeet-team/fieldwork/internal/location"
)

// Config holds mapping provider settings
type Config struct {
	BaseURL string
	APIKey  string
}

// ConfigFromEnv creates a Config from environment variables with sensible defaults
func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL: os.Getenv("GEOCODE_BASE_URL"),
		APIKey:  os.Getenv("GEOCODE_API_KEY"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://nominatim.openstreetmap.org"
	}
	return cfg
}

// Client talks to the mapping provider. It implements both
// location.AddressLookup (reverse geocoding) and location.Locator
// (provider-backed geolocation, used as the third chain strategy).
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a mapping provider client
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

// Reverse resolves coordinates to an address.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (location.Address, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	q.Set("format", "json")

	var parsed reverseResponse
	if err := c.get(ctx, "/reverse?"+q.Encode(), &parsed); err != nil {
		return location.Address{}, err
	}

	city := parsed.Address.City
	if city == "" {
		city = parsed.Address.Town
	}
	if city == "" {
		city = parsed.Address.Village
	}

	return location.Address{
		DisplayName: parsed.DisplayName,
		City:        city,
		State:       parsed.Address.State,
		Country:     parsed.Address.Country,
	}, nil
}

type geolocateResponse struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// CurrentPosition resolves a position from the provider's geolocation
// endpoint (cell/wifi database lookup). The options are accepted for
// interface compatibility; the provider decides accuracy.
func (c *Client) CurrentPosition(ctx context.Context, _ location.Options) (location.Position, error) {
	var parsed geolocateResponse
	if err := c.get(ctx, "/geolocate", &parsed); err != nil {
		return location.Position{}, err
	}
	if parsed.Location.Lat == 0 && parsed.Location.Lng == 0 {
		return location.Position{}, location.ErrUnavailable
	}
	return location.Position{
		Latitude:  parsed.Location.Lat,
		Longitude: parsed.Location.Lng,
		Accuracy:  parsed.Accuracy,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mapping provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mapping provider returned status %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode mapping provider response: %w", err)
	}
	return nil
}
