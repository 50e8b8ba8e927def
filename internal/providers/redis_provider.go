package providers

import (
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisProvider builds the shared client used by the repositories and
// the token bucket limiter. One pool serves both so limiter pressure is
// visible in the same connection metrics as storage traffic.
func NewRedisProvider(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}
