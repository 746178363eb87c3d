// README: Travel-time lookups via the Google Maps Directions API. Plugged
// into the routing service as its ETA source; absent a key, routing falls
// back to flat-speed estimates.
package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"bazar/internal/types"
)

type ETAService struct {
	client *maps.Client
}

func NewETAService(apiKey string) (*ETAService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &ETAService{client: client}, nil
}

// TravelTime returns the driving duration between two points.
func (s *ETAService) TravelTime(ctx context.Context, from, to types.Point) (time.Duration, error) {
	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", from.Lat, from.Lng),
		Destination: fmt.Sprintf("%f,%f", to.Lat, to.Lng),
		Mode:        maps.TravelModeDriving,
		Language:    "zh-TW",
		Region:      "TW", // Bias results to Taiwan
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, fmt.Errorf("no route found")
	}
	return routes[0].Legs[0].Duration, nil
}
