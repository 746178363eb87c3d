// README: Idle-driver pool backed by Redis GEO. Drivers report positions
// while idle; dispatch claims the nearest one and removes it from the pool.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bazar/internal/types"
)

const (
	idleDriverGeoKey   = "routing:drivers:idle"
	dispatchKeyPrefix  = "routing:route:%s:dispatched_at"
	// Dispatch markers outlive any realistic delivery day.
	dispatchKeyTTL = 7 * 24 * time.Hour
)

// DriverSource is what the dispatch path needs from the pool. Kept small so
// tests can stub it without Redis.
type DriverSource interface {
	ClaimNearest(ctx context.Context, p types.Point, radiusKm float64) (types.ID, bool, error)
	// RecordDispatch stamps when a route went out, for driver-app
	// reconciliation. Best effort.
	RecordDispatch(ctx context.Context, routeID types.ID) error
}

type DriverPool struct {
	redis *redis.Client
}

func NewDriverPool(redis *redis.Client) *DriverPool {
	return &DriverPool{redis: redis}
}

// UpdateLocation upserts a driver's position in the idle pool.
func (p *DriverPool) UpdateLocation(ctx context.Context, driverID types.ID, pos types.Point) error {
	return p.redis.GeoAdd(ctx, idleDriverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

// Remove takes a driver out of the idle pool (going offline or claimed).
func (p *DriverPool) Remove(ctx context.Context, driverID types.ID) error {
	return p.redis.ZRem(ctx, idleDriverGeoKey, string(driverID)).Err()
}

// ClaimNearest finds the idle driver closest to p within radiusKm and
// removes it from the pool. Returns false when no driver is in range.
func (p *DriverPool) ClaimNearest(ctx context.Context, pos types.Point, radiusKm float64) (types.ID, bool, error) {
	results, err := p.redis.GeoSearch(ctx, idleDriverGeoKey, &redis.GeoSearchQuery{
		Longitude:  pos.Lng,
		Latitude:   pos.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
		Count:      1,
	}).Result()
	if err != nil {
		return "", false, err
	}
	if len(results) == 0 {
		return "", false, nil
	}
	id := types.ID(results[0])
	if err := p.redis.ZRem(ctx, idleDriverGeoKey, results[0]).Err(); err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (p *DriverPool) RecordDispatch(ctx context.Context, routeID types.ID) error {
	key := fmt.Sprintf(dispatchKeyPrefix, string(routeID))
	return p.redis.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), dispatchKeyTTL).Err()
}
