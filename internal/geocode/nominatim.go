// Package geocode proxies forward and reverse geocoding to a Nominatim server.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"hydrowave/api/internal/upstream"
)

const searchLimit = 5

var ErrInvalidResponse = errors.New("geocoding service returned invalid JSON")

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

type Client struct {
	baseURL   string
	userAgent string
	http      *upstream.Client
}

func New(cfg Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      upstream.NewClient("nominatim", upstream.Options{Timeout: cfg.Timeout}),
	}
}

// Reverse returns the provider's JSON for the place nearest to lat/lng.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) ([]byte, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	return c.get(ctx, "/reverse", q)
}

// Search returns up to five candidate places matching query.
func (c *Client) Search(ctx context.Context, query string) ([]byte, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(searchLimit))
	return c.get(ctx, "/search", q)
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, ErrInvalidResponse
	}
	return resp.Body, nil
}
