// Package overpass queries the OpenStreetMap Overpass API for bridges and the
// named features around them.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/bridgeping/internal/resilience"
)

// DefaultURL is the public Overpass interpreter endpoint.
const DefaultURL = "https://overpass-api.de/api/interpreter"

// BBox is a query area in degrees.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Center is the centroid Overpass reports for ways with `out center`.
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Element is one OSM node or way from an Overpass JSON response.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat,omitempty"`
	Lon    *float64          `json:"lon,omitempty"`
	Center *Center           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Position returns the element's coordinates: a node's own, else a way's center.
func (e Element) Position() (lat, lon float64, ok bool) {
	switch {
	case e.Lat != nil && e.Lon != nil:
		return *e.Lat, *e.Lon, true
	case e.Center != nil:
		return e.Center.Lat, e.Center.Lon, true
	default:
		return 0, 0, false
	}
}

// Nearby holds the unique names of features around a point, sorted.
type Nearby struct {
	Streets   []string
	Waterways []string
}

type response struct {
	Elements []Element `json:"elements"`
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client at another interpreter.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
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

// WithServerTimeout sets the [timeout:N] directive of bridge queries.
func WithServerTimeout(d time.Duration) Option {
	return func(c *Client) { c.serverTimeout = d }
}

// Client is an Overpass API client.
type Client struct {
	baseURL       string
	http          *http.Client
	limiter       *rate.Limiter
	retry         resilience.RetryConfig
	serverTimeout time.Duration
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:       DefaultURL,
		http:          &http.Client{Timeout: 5 * time.Minute},
		limiter:       rate.NewLimiter(rate.Every(time.Second), 1),
		retry:         resilience.DefaultRetryConfig(),
		serverTimeout: 300 * time.Second,
	}
	c.retry.InitialBackoff = 2 * time.Second
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BridgeQuery builds the Overpass QL for every bridge way and node in bbox.
func BridgeQuery(b BBox, timeout time.Duration) string {
	area := fmt.Sprintf("(%g,%g,%g,%g)", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
	return fmt.Sprintf(`[out:json][timeout:%d];
(
  way["bridge"]["bridge"!="no"]%s;
  way["man_made"="bridge"]%s;
  node["bridge"]["bridge"!="no"]%s;
);
out center;`, int(timeout.Seconds()), area, area, area)
}

// NearbyQuery builds the Overpass QL for named ways within radius meters of a point.
func NearbyQuery(lat, lon, radius float64) string {
	around := fmt.Sprintf("(around:%g,%g,%g)", radius, lat, lon)
	return fmt.Sprintf(`[out:json][timeout:10];
(
  way["highway"]%s;
  way["waterway"]%s;
  way["name"]%s;
);
out tags;`, around, around, around)
}

// Bridges returns every bridge element inside b.
func (c *Client) Bridges(ctx context.Context, b BBox) ([]Element, error) {
	els, err := c.query(ctx, BridgeQuery(b, c.serverTimeout))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: bridges")
	}
	return els, nil
}

// Nearby returns the names of streets and waterways within radius meters.
func (c *Client) Nearby(ctx context.Context, lat, lon, radius float64) (*Nearby, error) {
	els, err := c.query(ctx, NearbyQuery(lat, lon, radius))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: nearby")
	}

	streets := map[string]struct{}{}
	waterways := map[string]struct{}{}
	for _, e := range els {
		name := e.Tags["name"]
		if name == "" {
			continue
		}
		if _, ok := e.Tags["highway"]; ok {
			streets[name] = struct{}{}
		} else if _, ok := e.Tags["waterway"]; ok {
			waterways[name] = struct{}{}
		}
	}
	return &Nearby{Streets: sortedKeys(streets), Waterways: sortedKeys(waterways)}, nil
}

func (c *Client) query(ctx context.Context, q string) ([]Element, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]Element, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit")
		}

		form := url.Values{"data": {q}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.StatusError("overpass", resp); err != nil {
			return nil, err
		}

		var out response
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "parse response")
		}
		return out.Elements, nil
	})
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
