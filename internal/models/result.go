package models

import "math"

// Travel holds the distance and travel time of a resolved route.
// It is either fully present on a LookupResult or absent.
type Travel struct {
	DistanceKm      float64 // DistanceKm is the route length in kilometers.
	DurationHours   float64 // DurationHours is the driving time in hours.
	DurationMinutes float64 // DurationMinutes is the driving time in minutes.
}

// LookupResult is the outcome of resolving one origin against the destination.
// A nil Travel means the provider found no route or every attempt failed;
// the two cases are not distinguished.
type LookupResult struct {
	Origin      string  // Origin is the place the route starts from.
	Destination string  // Destination is the central place of the run.
	Travel      *Travel // Travel is nil when no route is known.
}

// NewLookupResult converts a provider route (meters, seconds) into a result
// with kilometers, hours and minutes rounded to two decimals.
func NewLookupResult(origin, destination string, meters int, seconds float64) LookupResult {
	const (
		metersPerKm    = 1000
		secondsPerHour = 3600
		secondsPerMin  = 60
	)

	return LookupResult{
		Origin:      origin,
		Destination: destination,
		Travel: &Travel{
			DistanceKm:      round2(float64(meters) / metersPerKm),
			DurationHours:   round2(seconds / secondsPerHour),
			DurationMinutes: round2(seconds / secondsPerMin),
		},
	}
}

// NoRoute returns a result with origin and destination set and no travel data.
func NoRoute(origin, destination string) LookupResult {
	return LookupResult{Origin: origin, Destination: destination}
}

// HasRoute reports whether the result carries travel data.
func (r LookupResult) HasRoute() bool {
	return r.Travel != nil
}

// DistanceKm returns the distance in kilometers, or nil when absent.
func (r LookupResult) DistanceKm() *float64 {
	if r.Travel == nil {
		return nil
	}
	v := r.Travel.DistanceKm
	return &v
}

// DurationHours returns the travel time in hours, or nil when absent.
func (r LookupResult) DurationHours() *float64 {
	if r.Travel == nil {
		return nil
	}
	v := r.Travel.DurationHours
	return &v
}

// DurationMinutes returns the travel time in minutes, or nil when absent.
func (r LookupResult) DurationMinutes() *float64 {
	if r.Travel == nil {
		return nil
	}
	v := r.Travel.DurationMinutes
	return &v
}

func round2(v float64) float64 {
	const hundredths = 100
	return math.Round(v*hundredths) / hundredths
}
