package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPermissionDenied   = errors.New("location permission denied")
	ErrUnsupported        = errors.New("location is not supported on this device")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// addressComponents is how many leading parts of a geocoded place name are
// kept; the rest (state, postcode, country) is noise on a report.
const addressComponents = 3

type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: %v, %v", ErrInvalidCoordinates, c.Latitude, c.Longitude)
	}
	return nil
}

// GPSString is the fallback rendering used when no address is available.
func (c Coordinates) GPSString() string {
	return fmt.Sprintf("GPS: %.6f, %.6f", c.Latitude, c.Longitude)
}

// Geocoder turns coordinates into a comma-separated place name.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c Coordinates) (string, error)
}

// PositionSource reads the device position. Implementations return
// ErrPermissionDenied or ErrUnsupported when no fix can be obtained.
type PositionSource interface {
	CurrentPosition(ctx context.Context) (Coordinates, error)
}

// Result carries the resolved string plus whether the geocoder produced it.
type Result struct {
	Location    string      `json:"location"`
	Coordinates Coordinates `json:"coordinates"`
	Geocoded    bool        `json:"geocoded"`
}

type Resolver struct {
	geocoder Geocoder
	timeout  time.Duration
	logger   *zap.Logger
}

func NewResolver(geocoder Geocoder, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{geocoder: geocoder, timeout: timeout, logger: logger}
}

// Resolve reverse-geocodes c. Geocoding failures never fail the call: the
// coordinates themselves are returned as a GPS string instead.
func (r *Resolver) Resolve(ctx context.Context, c Coordinates) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	fallback := Result{Location: c.GPSString(), Coordinates: c}
	if r.geocoder == nil {
		return fallback, nil
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	name, err := r.geocoder.ReverseGeocode(gctx, c)
	if err != nil {
		r.logger.Warn("reverse geocode failed; using coordinates",
			zap.Float64("lat", c.Latitude),
			zap.Float64("lon", c.Longitude),
			zap.Error(err),
		)
		return fallback, nil
	}
	short := ShortenAddress(name)
	if short == "" {
		return fallback, nil
	}
	return Result{Location: short, Coordinates: c, Geocoded: true}, nil
}

// ResolveCurrent reads the device position and resolves it. Permission and
// capability errors from the source are returned unchanged.
func (r *Resolver) ResolveCurrent(ctx context.Context, src PositionSource) (Result, error) {
	if src == nil {
		return Result{}, ErrUnsupported
	}
	c, err := src.CurrentPosition(ctx)
	if err != nil {
		return Result{}, err
	}
	return r.Resolve(ctx, c)
}

// ShortenAddress keeps the first few comma-separated parts of a place name.
func ShortenAddress(displayName string) string {
	parts := strings.Split(displayName, ",")
	kept := make([]string, 0, addressComponents)
	for _, p := range parts {
		if len(kept) == addressComponents {
			break
		}
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// StaticPosition is a PositionSource for callers that already hold a fix, such
// as an API request carrying coordinates from the client.
type StaticPosition struct {
	Coordinates Coordinates
	Denied      bool
}

func (s StaticPosition) CurrentPosition(context.Context) (Coordinates, error) {
	if s.Denied {
		return Coordinates{}, ErrPermissionDenied
	}
	return s.Coordinates, nil
}
