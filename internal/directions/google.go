package directions

import (
	"context"
	"log/slog"

	"github.com/UnknownOlympus/odometer/internal/models"
	"googlemaps.github.io/maps"
)

// GoogleProvider resolves routes with the Google Maps Directions API.
type GoogleProvider struct {
	client   DirectionsAPIClient // client is the Google Maps API client
	log      *slog.Logger        // log is the logger for logging operations
	language string              // language of the returned addresses, optional
	region   string              // region bias for ambiguous place names, optional
}

// DirectionsAPIClient is the part of *maps.Client used by GoogleProvider.
type DirectionsAPIClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithLanguage sets the language parameter of every directions request.
func WithLanguage(language string) GoogleOption {
	return func(gp *GoogleProvider) { gp.language = language }
}

// WithRegion sets the region bias of every directions request.
func WithRegion(region string) GoogleOption {
	return func(gp *GoogleProvider) { gp.region = region }
}

// NewGoogleProvider initializes a new GoogleProvider around an existing client.
func NewGoogleProvider(client DirectionsAPIClient, log *slog.Logger, opts ...GoogleOption) *GoogleProvider {
	gp := &GoogleProvider{client: client, log: log}
	for _, opt := range opts {
		opt(gp)
	}
	return gp
}

// Lookup asks the Directions API for a driving route from origin to destination and
// converts the first leg of the first route. Zero routes is a valid no-route result.
func (gp *GoogleProvider) Lookup(ctx context.Context, origin, destination string) (models.LookupResult, error) {
	if origin == "" || destination == "" {
		return models.LookupResult{}, newProviderError(string(ProviderTypeGoogle), origin, destination, ErrEmptyLocation)
	}

	gp.log.DebugContext(ctx, "Requesting directions from Google Maps", "origin", origin, "destination", destination)

	req := maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
		Language:    gp.language,
		Region:      gp.region,
	}
	routes, _, err := gp.client.Directions(ctx, &req)
	if err != nil {
		return models.LookupResult{}, newProviderError(string(ProviderTypeGoogle), origin, destination, err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 || routes[0].Legs[0] == nil {
		gp.log.DebugContext(ctx, "Google Maps returned no route", "origin", origin, "destination", destination)
		return models.NoRoute(origin, destination), nil
	}

	leg := routes[0].Legs[0]

	return models.NewLookupResult(origin, destination, leg.Meters, leg.Duration.Seconds()), nil
}
