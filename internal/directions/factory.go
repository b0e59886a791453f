package directions

import (
	"errors"
	"fmt"
	"log/slog"

	"googlemaps.github.io/maps"
)

// ProviderType represents the type of routing provider.
type ProviderType string

const (
	// ProviderTypeGoogle represents the Google Maps Directions API.
	ProviderTypeGoogle ProviderType = "google"
	// ProviderTypeOSM represents Nominatim place search plus OSRM routing.
	ProviderTypeOSM ProviderType = "osm"
)

// ProviderConfig holds configuration for creating a routing provider.
type ProviderConfig struct {
	Type     ProviderType // Type of provider to create
	APIKey   string       // API key (used by Google provider)
	Language string       // Response language (used by Google provider)
	Region   string       // Region bias, also the OSM country filter
	Logger   *slog.Logger // Logger for the provider
}

// NewProvider creates a routing provider based on the provided configuration.
//
// Supported provider types:
// - "google": Google Maps Directions API (requires API key)
// - "osm": Nominatim + OSRM public APIs (no API key)
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Type {
	case ProviderTypeGoogle:
		return newGoogleProvider(config)
	case ProviderTypeOSM:
		return NewOSMProvider(config.Region, config.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

// newGoogleProvider creates a Google Maps directions provider.
func newGoogleProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("API key is required for Google provider")
	}

	client, err := maps.NewClient(maps.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return NewGoogleProvider(client, config.Logger, WithLanguage(config.Language), WithRegion(config.Region)), nil
}
