package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Coordinates is a resolved WGS84 position.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Geocoder resolves free-text addresses through a Geoapify-compatible search API.
type Geocoder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGeocoder creates a geocoder for a Geoapify-compatible search API. An empty apiKey makes every lookup fail.
func NewGeocoder(baseURL, apiKey string) *Geocoder {
	return &Geocoder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"features"`
}

// Geocode returns the first match for address. Every failure wraps ErrGeocodingUnavailable.
func (g *Geocoder) Geocode(ctx context.Context, address string) (Coordinates, error) {
	if g.apiKey == "" || g.baseURL == "" {
		return Coordinates{}, fmt.Errorf("%w: no API key configured", ErrGeocodingUnavailable)
	}
	if strings.TrimSpace(address) == "" {
		return Coordinates{}, fmt.Errorf("%w: empty address", ErrGeocodingUnavailable)
	}

	q := url.Values{}
	q.Set("text", address)
	q.Set("apiKey", g.apiKey)
	q.Set("limit", "1")
	endpoint := g.baseURL + "/v1/geocode/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: failed to create request: %v", ErrGeocodingUnavailable, err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: request failed: %v", ErrGeocodingUnavailable, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return Coordinates{}, fmt.Errorf("%w: geocoding API error: %s", ErrGeocodingUnavailable, resp.Status)
	}

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Coordinates{}, fmt.Errorf("%w: failed to decode response: %v", ErrGeocodingUnavailable, err)
	}
	if len(decoded.Features) == 0 || len(decoded.Features[0].Geometry.Coordinates) < 2 {
		return Coordinates{}, fmt.Errorf("%w: no results", ErrGeocodingUnavailable)
	}

	coords := decoded.Features[0].Geometry.Coordinates
	return Coordinates{Latitude: coords[1], Longitude: coords[0]}, nil
}
