// Package address turns coordinates into the labels shown on route stops.
package address

import (
	"context"
	"strings"

	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/geo"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/maps"
)

// Geocoder resolves a coordinate to a formatted address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, point geo.Point) (string, error)
}

// Service labels points. Geocoding is optional: without a geocoder, or when a
// lookup fails, the raw "lat,lng" text is returned.
type Service struct {
	geocoder Geocoder
	logg     *logger.Logger
}

// NewService builds a labeler. A nil geocoder disables lookups.
func NewService(geocoder Geocoder, logg *logger.Logger) *Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{geocoder: geocoder, logg: logg}
}

// NewFromMaps wraps the Google client, tolerating a nil client when maps is disabled.
func NewFromMaps(client *maps.Client, logg *logger.Logger) *Service {
	if client == nil {
		return NewService(nil, logg)
	}
	return NewService(client, logg)
}

// Label returns a human readable label for point and never fails.
func (s *Service) Label(ctx context.Context, point geo.Point) string {
	if s == nil || s.geocoder == nil {
		return point.String()
	}
	label, err := s.geocoder.ReverseGeocode(ctx, point)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"point": point.String(),
				"error": err.Error(),
			}), "reverse geocode unavailable, using coordinates")
		}
		return point.String()
	}
	if label = strings.TrimSpace(label); label == "" {
		return point.String()
	}
	return label
}

// Describe labels a stop that has no coordinates from its stored address text.
func Describe(line1, city, postalCode string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{line1, city, postalCode} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}
