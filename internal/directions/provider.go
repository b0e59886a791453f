package directions

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/odometer/internal/models"
)

// Provider is an interface that defines a method for resolving a driving route.
// Lookup returns a result with travel data, a result without travel data when
// the provider knows no route, or a *ProviderError when the call itself failed.
// Implementations do not retry.
type Provider interface {
	Lookup(ctx context.Context, origin, destination string) (models.LookupResult, error)
}

// ErrEmptyLocation is returned when the origin or the destination is blank.
var ErrEmptyLocation = errors.New("origin and destination must be non-empty")

// ProviderError is a failed call to the routing provider: network, auth, quota
// or a malformed response. It wraps the underlying cause.
type ProviderError struct {
	Provider    string // Provider is the name of the failing backend.
	Origin      string // Origin of the failed lookup.
	Destination string // Destination of the failed lookup.
	Err         error  // Err is the underlying cause.
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s lookup %q -> %q: %v", e.Provider, e.Origin, e.Destination, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(provider, origin, destination string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Origin: origin, Destination: destination, Err: err}
}
