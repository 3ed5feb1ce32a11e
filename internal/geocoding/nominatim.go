package geocoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/metrics"
)

const serviceName = "geocoding"

// Config tunes the Nominatim client. Zero values fall back to the defaults
// in DefaultConfig.
type Config struct {
	BaseURL         string
	UserAgent       string
	SearchLanguage  string
	ReverseLanguage string
	Timeout         time.Duration

	// Nominatim's usage policy allows one request per second.
	RequestsPerSecond float64
	Burst             int

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://nominatim.openstreetmap.org",
		UserAgent:         "MapMarkersApp/1.0",
		SearchLanguage:    "ru",
		ReverseLanguage:   "en",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 1,
		Burst:             1,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.SearchLanguage == "" {
		c.SearchLanguage = d.SearchLanguage
	}
	if c.ReverseLanguage == "" {
		c.ReverseLanguage = d.ReverseLanguage
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}

// NominatimClient talks to a Nominatim HTTP API.
//
// KEY CONCEPTS:
//   - rate.Limiter spaces outbound calls; Wait blocks until a token is free
//     or the request context is done.
//   - The circuit breaker counts consecutive failures. Once open, calls fail
//     fast with apperror.ErrUnavailable until the timeout lets a probe through.
//   - Upstream refusals (non-200) become apperror.ErrUpstream.
type NominatimClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

var _ Geocoder = (*NominatimClient)(nil)

func NewNominatimClient(cfg Config, logger *slog.Logger) *NominatimClient {
	cfg = cfg.withDefaults()

	c := &NominatimClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "nominatim",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A caller hanging up says nothing about Nominatim's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.GeocodingCircuitBreakerState.Set(stateValue(to))
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	metrics.GeocodingCircuitBreakerState.Set(stateValue(gobreaker.StateClosed))

	return c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Search runs a forward lookup.
func (c *NominatimClient) Search(ctx context.Context, query string, limit int) (results []Result, err error) {
	defer func() { metrics.RecordGeocodingRequest("search", err) }()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("addressdetails", "1")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("accept-language", c.cfg.SearchLanguage)

	body, err := c.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(body, &results); err != nil {
		c.logger.Error("failed to decode search response", slog.String("error", err.Error()))
		return nil, apperror.Upstream(serviceName, err)
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// reverseResponse is either a place or {"error": "Unable to geocode"}.
type reverseResponse struct {
	Result
	Error string `json:"error"`
}

// Reverse looks up the place at a point. Open water and other spots
// Nominatim cannot name return (nil, nil).
func (c *NominatimClient) Reverse(ctx context.Context, lat, lon float64) (result *Result, err error) {
	defer func() { metrics.RecordGeocodingRequest("reverse", err) }()

	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("addressdetails", "1")
	params.Set("extratags", "1")
	params.Set("accept-language", c.cfg.ReverseLanguage)

	body, err := c.get(ctx, "/reverse", params)
	if err != nil {
		return nil, err
	}

	var resp reverseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Error("failed to decode reverse response", slog.String("error", err.Error()))
		return nil, apperror.Upstream(serviceName, err)
	}
	if resp.Error != "" {
		c.logger.Debug("reverse lookup found nothing", slog.String("reason", resp.Error))
		return nil, nil
	}
	return &resp.Result, nil
}

// get waits for the limiter, then performs the request through the breaker.
func (c *NominatimClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("geocoding rate limit wait aborted", slog.String("error", err.Error()))
		return nil, apperror.Unavailable(serviceName)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, c.cfg.BaseURL+path+"?"+params.Encode())
	})
	if err == nil {
		return body, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperror.Unavailable(serviceName)
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return nil, err
	}

	c.logger.Error("geocoding request failed",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
	return nil, apperror.Upstream(serviceName, err)
}

func (c *NominatimClient) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// Nominatim error pages are short; 1 MiB is plenty for a result list.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("geocoding upstream refused request",
			slog.Int("status", resp.StatusCode),
			slog.String("url", req.URL.Path),
		)
		return nil, apperror.Upstream(serviceName, fmt.Errorf("status %d", resp.StatusCode))
	}
	return body, nil
}
