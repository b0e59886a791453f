package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/UnknownOlympus/odometer/internal/models"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// NominatimBaseURL is the public OpenStreetMap place search endpoint.
	NominatimBaseURL = "https://nominatim.openstreetmap.org/search"
	// OSRMBaseURL is the public OSRM driving route endpoint.
	OSRMBaseURL = "https://router.project-osrm.org/route/v1/driving"

	// NominatimInterval is the minimum gap between place searches on the public instance.
	NominatimInterval = time.Second

	osmUserAgent = "Odometer-Distance-Service/1.0 (https://github.com/UnknownOlympus/odometer)"
	osrmNoRoute  = "NoRoute"
)

// Common errors for the OSM provider.
var (
	ErrPlaceNotFound      = errors.New("nominatim API found no place")
	ErrOSMInvalidCoords   = errors.New("nominatim API returned invalid coordinates")
	ErrOSRMUnexpectedCode = errors.New("osrm API returned unexpected code")
)

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OSMProvider resolves routes without an API key: place names are geocoded with
// Nominatim and the route comes from OSRM. Place searches are paced by the provider
// itself, at most one per NominatimInterval unless configured otherwise, because a
// single lookup may need up to two of them.
type OSMProvider struct {
	client      HTTPClient    // HTTP client for making requests
	geocodeURL  string        // Base URL for the Nominatim search API
	routeURL    string        // Base URL for the OSRM driving route API
	countryCode string        // Optional country filter for place search
	log         *slog.Logger  // Logger for logging operations
	nominatim   *rate.Limiter // Paces place searches

	mu       sync.Mutex
	places   map[string]osmPlace // geocoded place names, the destination repeats every lookup
	geocodes singleflight.Group  // concurrent searches for one name share a request
}

type osmPlace struct {
	lat, lon float64
	found    bool
}

// nominatimResponse represents one match of the Nominatim search API.
type nominatimResponse struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// osrmResponse is the subset of the OSRM route response we need.
type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
	} `json:"routes"`
}

// NewOSMProvider creates a provider against the public Nominatim and OSRM endpoints.
func NewOSMProvider(countryCode string, log *slog.Logger) *OSMProvider {
	const timeout = 10
	return NewOSMProviderWithClient(&http.Client{Timeout: timeout * time.Second}, countryCode, log)
}

// NewOSMProviderWithClient creates an OSM provider with a custom HTTP client.
func NewOSMProviderWithClient(client HTTPClient, countryCode string, log *slog.Logger) *OSMProvider {
	return &OSMProvider{
		client:      client,
		geocodeURL:  NominatimBaseURL,
		routeURL:    OSRMBaseURL,
		countryCode: countryCode,
		log:         log,
		nominatim:   rate.NewLimiter(rate.Every(NominatimInterval), 1),
		places:      make(map[string]osmPlace),
	}
}

// WithNominatimInterval changes the minimum gap between place searches. A self-hosted
// instance may allow more; a non-positive interval disables pacing.
func (op *OSMProvider) WithNominatimInterval(interval time.Duration) *OSMProvider {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	op.nominatim = rate.NewLimiter(limit, 1)
	return op
}

// WithBaseURLs points the provider at other Nominatim and OSRM instances,
// for example self-hosted ones.
func (op *OSMProvider) WithBaseURLs(geocodeURL, routeURL string) *OSMProvider {
	op.geocodeURL = geocodeURL
	op.routeURL = routeURL
	return op
}

// Lookup geocodes both places and asks OSRM for a driving route between them.
func (op *OSMProvider) Lookup(ctx context.Context, origin, destination string) (models.LookupResult, error) {
	name := string(ProviderTypeOSM)
	if origin == "" || destination == "" {
		return models.LookupResult{}, newProviderError(name, origin, destination, ErrEmptyLocation)
	}

	from, err := op.place(ctx, origin)
	if err != nil {
		return models.LookupResult{}, newProviderError(name, origin, destination, err)
	}
	to, err := op.place(ctx, destination)
	if err != nil {
		return models.LookupResult{}, newProviderError(name, origin, destination, err)
	}
	if !from.found || !to.found {
		op.log.DebugContext(ctx, "Place not found, no route", "origin", origin, "destination", destination)
		return models.NoRoute(origin, destination), nil
	}

	route, err := op.route(ctx, from, to)
	if err != nil {
		return models.LookupResult{}, newProviderError(name, origin, destination, err)
	}
	if route.Code == osrmNoRoute || len(route.Routes) == 0 {
		op.log.DebugContext(ctx, "OSRM returned no route", "origin", origin, "destination", destination)
		return models.NoRoute(origin, destination), nil
	}

	best := route.Routes[0]

	return models.NewLookupResult(origin, destination, int(math.Round(best.Distance)), best.Duration), nil
}

// place returns the memoised coordinates of a place name, geocoding it on first use.
func (op *OSMProvider) place(ctx context.Context, name string) (osmPlace, error) {
	if cached, ok := op.cachedPlace(name); ok {
		return cached, nil
	}

	val, err, _ := op.geocodes.Do(name, func() (any, error) {
		// an earlier search may have finished since the check above
		if cached, ok := op.cachedPlace(name); ok {
			return cached, nil
		}

		found, err := op.geocode(ctx, name)
		if errors.Is(err, ErrPlaceNotFound) {
			found, err = osmPlace{}, nil
		}
		if err != nil {
			return osmPlace{}, err
		}

		op.mu.Lock()
		op.places[name] = found
		op.mu.Unlock()
		return found, nil
	})
	if err != nil {
		return osmPlace{}, err
	}

	return val.(osmPlace), nil
}

func (op *OSMProvider) cachedPlace(name string) (osmPlace, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	cached, ok := op.places[name]
	return cached, ok
}

// geocode performs a single Nominatim search request.
func (op *OSMProvider) geocode(ctx context.Context, name string) (osmPlace, error) {
	reqURL, err := url.Parse(op.geocodeURL)
	if err != nil {
		return osmPlace{}, fmt.Errorf("failed to parse base URL: %w", err)
	}

	query := reqURL.Query()
	query.Set("q", name)
	query.Set("format", "json")
	query.Set("limit", "1")
	if op.countryCode != "" {
		query.Set("countrycodes", op.countryCode)
	}
	reqURL.RawQuery = query.Encode()

	if err = op.nominatim.Wait(ctx); err != nil {
		return osmPlace{}, fmt.Errorf("nominatim pacing: %w", err)
	}
	body, status, err := op.get(ctx, reqURL.String())
	if err != nil {
		return osmPlace{}, err
	}
	if status != http.StatusOK {
		op.log.ErrorContext(ctx, "Nominatim API error", "status", status, "body", string(body))
		return osmPlace{}, fmt.Errorf("nominatim API returned status %d: %s", status, string(body))
	}

	var results []nominatimResponse
	if err = json.Unmarshal(body, &results); err != nil {
		return osmPlace{}, fmt.Errorf("failed to decode nominatim response: %w", err)
	}
	if len(results) == 0 {
		return osmPlace{}, ErrPlaceNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return osmPlace{}, fmt.Errorf("%w: invalid latitude: %s", ErrOSMInvalidCoords, results[0].Lat)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return osmPlace{}, fmt.Errorf("%w: invalid longitude: %s", ErrOSMInvalidCoords, results[0].Lon)
	}

	op.log.DebugContext(ctx, "Nominatim found place", "place", name, "lat", lat, "lon", lon)

	return osmPlace{lat: lat, lon: lon, found: true}, nil
}

// route performs a single OSRM route request. OSRM reports "NoRoute" with a client
// error status, so the body is decoded before the status is judged.
func (op *OSMProvider) route(ctx context.Context, from, to osmPlace) (osrmResponse, error) {
	reqURL := fmt.Sprintf("%s/%s,%s;%s,%s?overview=false",
		op.routeURL,
		strconv.FormatFloat(from.lon, 'f', -1, 64), strconv.FormatFloat(from.lat, 'f', -1, 64),
		strconv.FormatFloat(to.lon, 'f', -1, 64), strconv.FormatFloat(to.lat, 'f', -1, 64),
	)

	body, status, err := op.get(ctx, reqURL)
	if err != nil {
		return osrmResponse{}, err
	}

	var result osrmResponse
	decodeErr := json.Unmarshal(body, &result)
	if decodeErr == nil && result.Code == osrmNoRoute {
		return result, nil
	}
	if status != http.StatusOK {
		op.log.ErrorContext(ctx, "OSRM API error", "status", status, "body", string(body))
		return osrmResponse{}, fmt.Errorf("osrm API returned status %d: %s", status, string(body))
	}
	if decodeErr != nil {
		return osrmResponse{}, fmt.Errorf("failed to decode osrm response: %w", decodeErr)
	}
	if result.Code != "Ok" {
		return osrmResponse{}, fmt.Errorf("%w: %s %s", ErrOSRMUnexpectedCode, result.Code, result.Message)
	}

	return result, nil
}

func (op *OSMProvider) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", osmUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := op.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, resp.StatusCode, nil
}
