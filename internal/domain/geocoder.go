package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Coordinate       Coordinate
	FormattedAddress string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder turns an address string into coordinates. Failures are reported
// as *GeocodeError so callers can decide whether to retry.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (GeocodingResult, error)
}

// FailureKind classifies a failed geocode call.
type FailureKind int

const (
	// FailureNoMatch means the provider understood the query but found nothing.
	FailureNoMatch FailureKind = iota
	// FailureRateLimited is a 429 or quota response.
	FailureRateLimited
	// FailureTimeout covers client timeouts and gateway timeouts.
	FailureTimeout
	// FailureProvider is any other provider-side or request error.
	FailureProvider
)

func (k FailureKind) String() string {
	switch k {
	case FailureNoMatch:
		return "no_match"
	case FailureRateLimited:
		return "rate_limited"
	case FailureTimeout:
		return "timeout"
	default:
		return "provider_error"
	}
}

// GeocodeError is a typed geocoding failure.
type GeocodeError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *GeocodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GeocodeError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying with the same query.
func (e *GeocodeError) Transient() bool {
	return e.Kind == FailureRateLimited || e.Kind == FailureTimeout
}

// NoMatch builds a FailureNoMatch error for the given query.
func NoMatch(address string) *GeocodeError {
	return &GeocodeError{Kind: FailureNoMatch, Message: fmt.Sprintf("no match for %q", address)}
}

// FailureKindOf extracts the failure kind from err. Untyped errors are
// treated as provider errors, except context deadline errors which are
// timeouts.
func FailureKindOf(err error) FailureKind {
	var geoErr *GeocodeError
	if errors.As(err, &geoErr) {
		return geoErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureProvider
}

// IsTransient reports whether err should be retried against the same query.
func IsTransient(err error) bool {
	k := FailureKindOf(err)
	return k == FailureRateLimited || k == FailureTimeout
}

// ClassifyHTTPStatus maps a provider HTTP status to a typed failure.
func ClassifyHTTPStatus(statusCode int, body string) *GeocodeError {
	switch statusCode {
	case http.StatusTooManyRequests:
		return &GeocodeError{Kind: FailureRateLimited, Message: "rate limit reached"}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &GeocodeError{Kind: FailureTimeout, Message: fmt.Sprintf("provider timeout (status %d)", statusCode)}
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		return &GeocodeError{Kind: FailureNoMatch, Message: fmt.Sprintf("status %d: %s", statusCode, body)}
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		// Mapbox answers 503 under load; it behaves like a rate limit.
		return &GeocodeError{Kind: FailureRateLimited, Message: fmt.Sprintf("provider unavailable (status %d)", statusCode)}
	default:
		return &GeocodeError{Kind: FailureProvider, Message: fmt.Sprintf("status %d: %s", statusCode, body)}
	}
}
