// Package nominatim reverse-geocodes coordinates with the OpenStreetMap
// Nominatim API.
package nominatim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/bridgeping/internal/resilience"
)

// DefaultURL is the public reverse-geocoding endpoint.
const DefaultURL = "https://nominatim.openstreetmap.org/reverse"

// Place is the street-level address of a point.
type Place struct {
	Street       string
	Neighborhood string
	Water        string
	DisplayName  string
}

// Empty reports whether the lookup found nothing usable.
func (p *Place) Empty() bool {
	return p == nil || (p.Street == "" && p.Neighborhood == "" && p.Water == "" && p.DisplayName == "")
}

type reverseResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client at another Nominatim instance.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent sets the User-Agent the usage policy requires.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMinInterval enforces a minimum delay between requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithMaxAttempts sets how many times a transient failure is tried.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.retry.MaxAttempts = n }
}

// Client is a Nominatim reverse-geocoding client.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// NewClient creates a Client. The public instance allows one request per second.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultURL,
		userAgent: "BridgePing/1.0",
		http:      &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		retry:     resilience.DefaultRetryConfig(),
	}
	c.retry.MaxAttempts = 2
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reverse returns the address at lat/lon. A point Nominatim cannot place
// yields an empty Place and no error.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	params := url.Values{
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format":         {"json"},
		"addressdetails": {"1"},
		"zoom":           {"18"},
	}
	reqURL := c.baseURL + "?" + params.Encode()

	place, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Place, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.StatusError("nominatim", resp); err != nil {
			return nil, err
		}

		var out reverseResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "parse response")
		}
		return toPlace(out), nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: reverse")
	}
	return place, nil
}

func toPlace(r reverseResponse) *Place {
	if r.Error != "" {
		return &Place{}
	}
	a := r.Address
	return &Place{
		Street:       first(a, "road", "pedestrian"),
		Neighborhood: first(a, "neighbourhood", "suburb", "district"),
		Water:        first(a, "water", "waterway"),
		DisplayName:  r.DisplayName,
	}
}

func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
