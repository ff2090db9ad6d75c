package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// The lease value is "<device>|<token>" so a busy lock names the terminal
// holding it. Only the holder's token may delete it.
const leaseReleaseScript = `
local v = redis.call("GET", KEYS[1])
if v and string.sub(v, -string.len(ARGV[1])) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var errLeaseNotConfigured = errors.New("lease_not_configured")

// Lease is a redis lock held by one terminal for at most a TTL.
type Lease struct {
	client  *redis.Client
	release *redis.Script
	device  string
}

func NewLease(client *redis.Client, device string) *Lease {
	if client == nil {
		return nil
	}
	device = strings.TrimSpace(device)
	if device == "" {
		device = "unknown"
	}
	return &Lease{
		client:  client,
		release: redis.NewScript(leaseReleaseScript),
		device:  device,
	}
}

// Acquire returns the release token when the lease was free.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errLeaseNotConfigured
	}
	if key == "" || ttl <= 0 {
		return "", false, errors.New("invalid_lease")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, l.device+"|"+token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Holder names the device currently holding key, or "" when it is free.
func (l *Lease) Holder(ctx context.Context, key string) (string, error) {
	if l == nil || l.client == nil {
		return "", errLeaseNotConfigured
	}
	value, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return leaseDevice(value), nil
}

func (l *Lease) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, "|"+token).Err()
}

func leaseDevice(value string) string {
	device, _, found := strings.Cut(value, "|")
	if !found {
		return ""
	}
	return device
}
