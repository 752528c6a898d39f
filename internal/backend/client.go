// Package backend talks to the MediHub catalogue and order service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/medihub-cart/internal/cart"
	"github.com/noah-isme/medihub-cart/internal/checkout"
	"github.com/noah-isme/medihub-cart/internal/common"
	"github.com/noah-isme/medihub-cart/internal/geo"
	"github.com/noah-isme/medihub-cart/internal/resilience"
)

// ErrNoCoordinates is returned for a pharmacy without a usable location.
var ErrNoCoordinates = errors.New("backend: pharmacy has no coordinates")

const maxBody = 1 << 20

// Pharmacy is the subset of the pharmacy record used for delivery pricing.
type Pharmacy struct {
	ID   cart.ID `json:"id"`
	Name string  `json:"name"`
	Lat  *coord  `json:"lat"`
	Lng  *coord  `json:"lng"`
}

// Location returns the pharmacy coordinates when both are present.
func (p Pharmacy) Location() (geo.Point, bool) {
	if p.Lat == nil || p.Lng == nil {
		return geo.Point{}, false
	}
	pt := geo.Point{Lat: float64(*p.Lat), Lng: float64(*p.Lng)}
	return pt, pt.Valid()
}

// Client calls the backend over a breaker-guarded HTTP client. Calls are never
// retried automatically.
type Client struct {
	BaseURL string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger
}

// NewClient returns a client for baseURL with tracing and a circuit breaker.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).
		WithTarget("medihub-backend").
		WithLogger(logger)
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: resilience.HTTPClient{
			Client: &http.Client{
				Timeout:   timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Breaker:     breaker,
			MaxAttempts: 1,
			Timeout:     timeout,
		},
		Logger: logger,
	}
}

// Pharmacy fetches GET /pharmacies/{id}.
func (c *Client) Pharmacy(ctx context.Context, id string) (Pharmacy, error) {
	var body struct {
		Pharmacy *Pharmacy `json:"pharmacy"`
	}
	if err := c.do(ctx, http.MethodGet, "/pharmacies/"+url.PathEscape(id), nil, &body); err != nil {
		return Pharmacy{}, err
	}
	if body.Pharmacy == nil {
		return Pharmacy{}, fmt.Errorf("backend: pharmacy %s missing from response", id)
	}
	return *body.Pharmacy, nil
}

// PharmacyLocation implements geo.PharmacyLookup.
func (c *Client) PharmacyLocation(ctx context.Context, id string) (geo.Point, error) {
	p, err := c.Pharmacy(ctx, id)
	if err != nil {
		return geo.Point{}, err
	}
	pt, ok := p.Location()
	if !ok {
		return geo.Point{}, ErrNoCoordinates
	}
	return pt, nil
}

// CreateOrder implements checkout.OrderCreator via POST /orders/create.
func (c *Client) CreateOrder(ctx context.Context, payload checkout.OrderPayload) (string, error) {
	var body struct {
		Order *struct {
			ID cart.ID `json:"id"`
		} `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/create", payload, &body); err != nil {
		return "", err
	}
	if body.Order == nil || body.Order.ID.Empty() {
		return "", checkout.ErrMissingOrderID
	}
	return body.Order.ID.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		c.Logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("backend call failed")
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("backend: read response: %w", err)
	}
	c.Logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

// responseError keeps the backend's message so it can be shown to the customer.
func responseError(resp *http.Response, data []byte) error {
	statusErr := &resilience.StatusError{Code: resp.StatusCode, Status: resp.Status}
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)
	msg := strings.TrimSpace(body.Message)
	if msg == "" {
		return fmt.Errorf("backend: %w", statusErr)
	}
	return common.NewAppError("BACKEND_REJECTED", msg, resp.StatusCode, statusErr)
}

// coord decodes coordinates sent either as numbers or numeric strings.
type coord float64

func (c *coord) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*c = coord(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("backend: invalid coordinate %s", data)
	}
	*c = coord(f)
	return nil
}
