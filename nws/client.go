// Package nws fetches active alerts and point forecasts from the
// National Weather Service API and renders them as plain text.
package nws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DefaultBaseURL is the public National Weather Service API endpoint.
	DefaultBaseURL = "https://api.weather.gov"

	userAgent = "weather-app/1.0"
	accept    = "application/geo+json"

	defaultTimeout = 30 * time.Second

	// NoAlertsFound is returned for every alert lookup that yields
	// nothing usable, whatever the underlying cause.
	NoAlertsFound = "No alerts found."

	// NoForecastFound is returned for every forecast lookup that yields
	// nothing usable, whatever the underlying cause.
	NoForecastFound = "No forecast found."
)

// Client talks to the National Weather Service API.
//
// Client never surfaces transport or decoding failures to its callers:
// every failure mode collapses into the NoAlertsFound / NoForecastFound
// sentinel texts, so a flaky upstream degrades into an honest "nothing
// found" answer instead of an error.
type Client struct {
	_ struct{}

	baseURL          string
	httpClient       *http.Client
	credentialHeader string
	credentialValue  string
	periodLimit      int
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets the http.Client used for API calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithCredentialHeader attaches a static credential header to every
// request, for deployments that reach the API through a gateway.
func WithCredentialHeader(name, value string) ClientOption {
	return func(c *Client) {
		c.credentialHeader = name
		c.credentialValue = value
	}
}

// WithForecastPeriodLimit caps the number of forecast periods rendered.
// Zero or negative means all periods.
func WithForecastPeriodLimit(limit int) ClientOption {
	return func(c *Client) {
		c.periodLimit = limit
	}
}

// NewClient creates a Client for the National Weather Service API.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

type alertCollection struct {
	Features []alertFeature `json:"features"`
}

type alertFeature struct {
	Properties alertProperties `json:"properties"`
}

type alertProperties struct {
	Event       string `json:"event"`
	AreaDesc    string `json:"areaDesc"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Instruction string `json:"instruction"`
}

type pointResponse struct {
	Properties pointProperties `json:"properties"`
}

type pointProperties struct {
	Forecast string `json:"forecast"`
}

type forecastResponse struct {
	Properties forecastProperties `json:"properties"`
}

type forecastProperties struct {
	Periods []forecastPeriod `json:"periods"`
}

type forecastPeriod struct {
	Name             string `json:"name"`
	DetailedForecast string `json:"detailedForecast"`
}

// ActiveAlerts returns the active alerts for a US state as rendered
// text. state is a two-letter code; it is upper-cased before the query.
func (c *Client) ActiveAlerts(ctx context.Context, state string) string {
	url := fmt.Sprintf("%s/alerts/active?area=%s", c.baseURL, strings.ToUpper(state))

	var collection alertCollection
	if err := c.get(ctx, url, &collection); err != nil {
		slog.Debug("[nws] alerts request failed", slog.String("url", url), slog.Any("error", err))
		return NoAlertsFound
	}
	if len(collection.Features) == 0 {
		return NoAlertsFound
	}

	alerts := make([]string, 0, len(collection.Features))
	for _, feature := range collection.Features {
		alerts = append(alerts, formatAlert(feature.Properties))
	}
	return strings.Join(alerts, "\n---\n")
}

// Forecast returns the detailed forecast for a coordinate as rendered
// text. It resolves the point to its forecast URL first, then fetches
// the forecast itself.
func (c *Client) Forecast(ctx context.Context, latitude, longitude float64) string {
	pointsURL := fmt.Sprintf("%s/points/%v,%v", c.baseURL, latitude, longitude)

	var point pointResponse
	if err := c.get(ctx, pointsURL, &point); err != nil {
		slog.Debug("[nws] points request failed", slog.String("url", pointsURL), slog.Any("error", err))
		return NoForecastFound
	}
	if point.Properties.Forecast == "" {
		return NoForecastFound
	}

	var forecast forecastResponse
	if err := c.get(ctx, point.Properties.Forecast, &forecast); err != nil {
		slog.Debug("[nws] forecast request failed",
			slog.String("url", point.Properties.Forecast), slog.Any("error", err))
		return NoForecastFound
	}
	periods := forecast.Properties.Periods
	if len(periods) == 0 {
		return NoForecastFound
	}
	if c.periodLimit > 0 && len(periods) > c.periodLimit {
		periods = periods[:c.periodLimit]
	}

	lines := make([]string, 0, len(periods))
	for _, p := range periods {
		lines = append(lines, fmt.Sprintf("%s: %s", p.Name, p.DetailedForecast))
	}
	return strings.Join(lines, "\n")
}

func (c *Client) get(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	if c.credentialHeader != "" {
		req.Header.Set(c.credentialHeader, c.credentialValue)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, res.Body)
		return fmt.Errorf("unexpected status %s", res.Status)
	}
	return json.NewDecoder(res.Body).Decode(dest)
}

func formatAlert(props alertProperties) string {
	return fmt.Sprintf(
		"Event: %s\nArea: %s\nSeverity: %s\nDescription: %s\nInstructions: %s\n",
		orDefault(props.Event, "Unknown"),
		orDefault(props.AreaDesc, "Unknown"),
		orDefault(props.Severity, "Unknown"),
		orDefault(props.Description, "No description available"),
		orDefault(props.Instruction, "No specific instructions provided"),
	)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
