package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoMatch is returned when the lookup service has no result for the address
var ErrNoMatch = errors.New("address not geocoded")

// Geocoder resolves a free-text address to coordinates
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// HTTPGeocoder queries a Nominatim-compatible search endpoint
type HTTPGeocoder struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPGeocoder creates a geocoder against baseURL
func NewHTTPGeocoder(baseURL string, logger zerolog.Logger) *HTTPGeocoder {
	return &HTTPGeocoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With().Str("component", "geocoder").Logger(),
	}
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode returns the first match for address
func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Point{}, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dispatchdesk/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Point{}, fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Point{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(results) == 0 {
		g.logger.Debug().Str("address", address).Msg("No geocode match")
		return Point{}, ErrNoMatch
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse longitude: %w", err)
	}
	return Point{Lat: lat, Lng: lng}, nil
}
