// Package mapbox geocodes club and meet addresses with the Mapbox Geocoding API.
package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 512

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	country    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client limited to US results.
func NewClient(token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		country: "us",
		metrics: metrics,
		logger:  logger,
	}
}

// Geocode forward-geocodes one address. Failures are *domain.GeocodeError:
// an empty feature list is NoMatch, HTTP statuses are classified by
// domain.ClassifyHTTPStatus, and transport timeouts are Timeout.
func (c *Client) Geocode(ctx context.Context, address string) (domain.GeocodingResult, error) {
	query := strings.TrimSpace(address)
	if query == "" {
		return domain.GeocodingResult{}, domain.NoMatch(address)
	}

	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"address,poi,postcode,place,locality"},
	}
	if c.country != "" {
		params.Set("country", c.country)
	}

	start := time.Now()
	res, err := c.doRequest(ctx, u+"?"+params.Encode(), query)
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Debug("mapbox geocode failed", "address", query, "error", err)
	}
	return res, err
}

func (c *Client) doRequest(ctx context.Context, fullURL, query string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.GeocodingResult{}, &domain.GeocodeError{Kind: domain.FailureProvider, Message: "create request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodingResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.GeocodingResult{}, domain.ClassifyHTTPStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return domain.GeocodingResult{}, &domain.GeocodeError{Kind: domain.FailureProvider, Message: "decode response", Err: err}
	}

	if len(mapboxResp.Features) == 0 {
		return domain.GeocodingResult{}, domain.NoMatch(query)
	}

	f := mapboxResp.Features[0]
	if len(f.Center) != 2 {
		return domain.GeocodingResult{}, &domain.GeocodeError{Kind: domain.FailureProvider, Message: "feature has no center"}
	}
	return domain.GeocodingResult{
		// Mapbox uses [lon, lat] order.
		Coordinate:       domain.Coordinate{Lat: f.Center[1], Lng: f.Center[0]},
		FormattedAddress: f.PlaceName,
		Confidence:       f.Relevance,
	}, nil
}

// classifyTransportError maps an http.Client error. Timeouts and connection
// failures are worth retrying; a cancelled caller is not.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.GeocodeError{Kind: domain.FailureTimeout, Message: "request timed out", Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &domain.GeocodeError{Kind: domain.FailureTimeout, Message: "connection failed", Err: err}
	}
	return &domain.GeocodeError{Kind: domain.FailureProvider, Message: "request failed", Err: err}
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Relevance float64   `json:"relevance"`
}
