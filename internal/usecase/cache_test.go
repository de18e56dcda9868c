package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/parking-anpr/internal/repository"
)

type fakeRedis struct {
	redis.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	value, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(value)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func TestRedisVehicleCacheRoundTrip(t *testing.T) {
	backend := newFakeRedis()
	cache := NewRedisVehicleCache(backend, 5*time.Minute)
	ctx := context.Background()

	if _, err := cache.GetVehicle(ctx, "AB12CDE"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil on miss, got %v", err)
	}

	vehicle := repository.Vehicle{ID: 9, RegistrationPlate: "AB12 CDE", PermitNumber: "P-9", IsActive: true}
	if err := cache.SetVehicle(ctx, "AB12CDE", vehicle); err != nil {
		t.Fatalf("expected set to succeed, got %v", err)
	}
	if backend.ttls["anpr:vehicle:AB12CDE"] != 5*time.Minute {
		t.Fatalf("expected entry under plate key with ttl, got %v", backend.ttls)
	}

	got, err := cache.GetVehicle(ctx, "AB12CDE")
	if err != nil {
		t.Fatalf("expected cache hit, got %v", err)
	}
	if got.ID != 9 || got.PermitNumber != "P-9" || got.RegistrationPlate != "AB12 CDE" {
		t.Fatalf("unexpected cached vehicle: %+v", got)
	}
}

func TestRedisVehicleCacheRejectsCorruptEntry(t *testing.T) {
	backend := newFakeRedis()
	backend.values[vehicleCacheKey("AB12CDE")] = `{"id":`
	cache := NewRedisVehicleCache(backend, time.Minute)

	_, err := cache.GetVehicle(context.Background(), "AB12CDE")
	if err == nil || errors.Is(err, redis.Nil) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
