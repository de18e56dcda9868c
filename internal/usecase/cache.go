package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/parking-anpr/internal/repository"
)

const vehicleKeyPrefix = "anpr:vehicle:"

// VehicleCache stores registry rows under their normalized plate so repeat
// sightings of a vehicle skip the database.
type VehicleCache interface {
	// GetVehicle returns redis.Nil when the plate is not cached.
	GetVehicle(ctx context.Context, plate string) (repository.Vehicle, error)
	SetVehicle(ctx context.Context, plate string, vehicle repository.Vehicle) error
}

// RedisVehicleCache keeps vehicles as JSON strings with a fixed TTL.
type RedisVehicleCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisVehicleCache returns a cache writing entries that expire after ttl.
func NewRedisVehicleCache(client redis.Cmdable, ttl time.Duration) *RedisVehicleCache {
	return &RedisVehicleCache{client: client, ttl: ttl}
}

func (c *RedisVehicleCache) GetVehicle(ctx context.Context, plate string) (repository.Vehicle, error) {
	raw, err := c.client.Get(ctx, vehicleCacheKey(plate)).Result()
	if err != nil {
		return repository.Vehicle{}, err
	}
	var vehicle repository.Vehicle
	if err := json.Unmarshal([]byte(raw), &vehicle); err != nil {
		return repository.Vehicle{}, fmt.Errorf("decode cached vehicle %s: %w", plate, err)
	}
	return vehicle, nil
}

func (c *RedisVehicleCache) SetVehicle(ctx context.Context, plate string, vehicle repository.Vehicle) error {
	encoded, err := json.Marshal(vehicle)
	if err != nil {
		return fmt.Errorf("encode vehicle %s: %w", plate, err)
	}
	return c.client.Set(ctx, vehicleCacheKey(plate), string(encoded), c.ttl).Err()
}

func vehicleCacheKey(normalizedPlate string) string {
	return vehicleKeyPrefix + normalizedPlate
}
