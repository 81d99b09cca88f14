package adapter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/eco-assistant/internal/circuitbreaker"
	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/retry"
	"github.com/eco-assistant/internal/types"
)

// DefaultOverpassURL is the public Overpass interpreter endpoint
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// OverpassClientConfig holds configuration for the Overpass client
type OverpassClientConfig struct {
	URL         string
	Radius      int // meters
	Timeout     time.Duration
	RPS         int
	MaxAttempts int
	RetryDelay  time.Duration
	HTTPClient  *http.Client
	// Budget caps requests shared with other instances. Optional.
	Budget Budget
	Logger *logging.Logger
}

// Budget hands out upstream requests from a shared allowance
type Budget interface {
	TryConsume(ctx context.Context, n int) (bool, time.Duration, error)
}

// BudgetExhaustedError is returned when the shared request budget is spent
type BudgetExhaustedError struct {
	RetryAfter time.Duration
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("overpass request budget exhausted, next window in %s", e.RetryAfter.Round(time.Second))
}

// OverpassClient looks up eco points around a location with the Overpass API
type OverpassClient struct {
	url      string
	radius   int
	client   *http.Client
	limiter  *rate.Limiter
	budget   Budget
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg *retry.Config
	logger   *logging.Logger
}

// overpassResponse is the subset of the Overpass JSON output we read
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type string            `json:"type"`
	ID   int64             `json:"id"`
	Lat  *float64          `json:"lat"`
	Lon  *float64          `json:"lon"`
	Tags map[string]string `json:"tags"`
}

// httpStatusError is a non-200 answer from the upstream
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d - %s", e.StatusCode, e.Body)
}

// NewOverpassClient creates a new Overpass client
func NewOverpassClient(cfg *OverpassClientConfig) *OverpassClient {
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	radius := cfg.Radius
	if radius <= 0 {
		radius = 5000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithField("component", "overpass")

	return &OverpassClient{
		url:     endpoint,
		radius:  radius,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		budget:  cfg.Budget,
		breaker: circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
			Name:             "overpass",
			MaxFailures:      5,
			Timeout:          30 * time.Second,
			HalfOpenMaxCalls: 1,
			IsFailure:        isRetryableOverpassError,
			Logger:           logger,
		}),
		retryCfg: &retry.Config{
			MaxAttempts:  attempts,
			InitialDelay: delay,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Retryable:    isRetryableOverpassError,
		},
		logger: logger,
	}
}

// FindPoints returns recycling points, parks and eco shops around the
// coordinates encoded in locationKey
func (c *OverpassClient) FindPoints(ctx context.Context, locationKey string) (models.PointSet, error) {
	lat, lon, err := types.ParseLocationKey(locationKey)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError("location", err.Error())
	}

	query := BuildOverpassQuery(lat, lon, c.radius)

	var body []byte
	err = c.breaker.Execute(func() error {
		return retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := c.consumeBudget(ctx); err != nil {
				return err
			}
			b, err := c.doRequest(ctx, query)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
	})
	if err != nil {
		var be *BudgetExhaustedError
		if stderrors.As(err, &be) {
			return nil, apperrors.NewProviderError("overpass", err)
		}
		return nil, err
	}

	var resp overpassResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse overpass response: %w", err)
	}

	ps := parseElements(resp.Elements)
	c.logger.WithFields(map[string]interface{}{
		"location": locationKey,
		"points":   ps.Total(),
	}).Debug("Overpass lookup finished")
	return ps, nil
}

// BreakerStats exposes the upstream circuit breaker state
func (c *OverpassClient) BreakerStats() *circuitbreaker.Stats {
	return c.breaker.GetStats()
}

// consumeBudget fails open when the budget store is unreachable
func (c *OverpassClient) consumeBudget(ctx context.Context) error {
	if c.budget == nil {
		return nil
	}
	ok, wait, err := c.budget.TryConsume(ctx, 1)
	if err != nil {
		c.logger.WithError(err).Warn("Request budget unavailable")
		return nil
	}
	if !ok {
		return &BudgetExhaustedError{RetryAfter: wait}
	}
	return nil
}

func (c *OverpassClient) doRequest(ctx context.Context, query string) ([]byte, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

// isRetryableOverpassError retries transport failures, 429 and 5xx
func isRetryableOverpassError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var be *BudgetExhaustedError
	if stderrors.As(err, &be) {
		return false
	}
	var se *httpStatusError
	if stderrors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// BuildOverpassQuery renders the Overpass QL query for a circle
func BuildOverpassQuery(lat, lon float64, radius int) string {
	around := fmt.Sprintf("(around:%d,%g,%g)", radius, lat, lon)
	var b strings.Builder
	b.WriteString("[out:json][timeout:25];\n(\n")
	for _, sel := range []string{
		`node["amenity"="recycling"]`,
		`node["recycling_type"]`,
		`node["leisure"="park"]`,
		`node["shop"="organic"]`,
		`node["shop"="health_food"]`,
	} {
		b.WriteString("  ")
		b.WriteString(sel)
		b.WriteString(around)
		b.WriteString(";\n")
	}
	b.WriteString(");\nout body;\n")
	return b.String()
}

// parseElements groups node elements into a PointSet. Elements of
// other types and nodes outside the known categories are skipped.
func parseElements(elements []overpassElement) models.PointSet {
	ps := models.NewPointSet()
	for _, el := range elements {
		if el.Type != "node" {
			continue
		}
		category, ok := categorize(el.Tags)
		if !ok {
			continue
		}

		name := el.Tags["name"]
		if name == "" {
			name = "Неизвестно"
		}
		ps[category] = append(ps[category], models.Point{
			ID:          el.ID,
			Lat:         el.Lat,
			Lon:         el.Lon,
			Name:        name,
			Description: describe(el.Tags),
			Tags:        el.Tags,
		})
	}
	return ps
}

func categorize(tags map[string]string) (types.PointCategory, bool) {
	switch {
	case tags["amenity"] == "recycling":
		return types.CategoryRecycling, true
	case tags["leisure"] == "park":
		return types.CategoryEvent, true
	case tags["shop"] == "organic" || tags["shop"] == "health_food":
		return types.CategoryEcoShop, true
	}
	return "", false
}

func describe(tags map[string]string) string {
	var parts []string

	if tags["amenity"] == "recycling" {
		parts = append(parts, "Пункт приема отходов")
	}

	var materials []string
	for k, v := range tags {
		if v == "yes" && strings.HasPrefix(k, "recycling:") {
			materials = append(materials, strings.TrimPrefix(k, "recycling:"))
		}
	}
	if len(materials) > 0 {
		sort.Strings(materials)
		parts = append(parts, "Принимает: "+strings.Join(materials, ", "))
	}

	if hours, ok := tags["opening_hours"]; ok {
		parts = append(parts, "Часы работы: "+hours)
	}

	if len(parts) == 0 {
		return "Эко-точка"
	}
	return strings.Join(parts, ". ")
}
