package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/safemind/internal/reliability"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"

// NominatimGeocoder calls an OpenStreetMap Nominatim-compatible reverse endpoint.
type NominatimGeocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewNominatimGeocoder(baseURL, userAgent string) *NominatimGeocoder {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultNominatimURL
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "safemind-intake/1.0"
	}
	return &NominatimGeocoder{
		baseURL:   strings.TrimSpace(baseURL),
		userAgent: userAgent,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// StatusError reports a non-2xx geocoder response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geocoder http status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying later.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, c Coordinates) (string, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse geocoder url: %w", err)
	}
	q := u.Query()
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out nominatimResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("geocoder error: %s", out.Error)
	}
	return out.DisplayName, nil
}
