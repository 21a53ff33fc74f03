package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InvoiceLockKey builds redis keys for per-invoice critical sections.
func InvoiceLockKey(invoiceID uuid.UUID) string {
	return fmt.Sprintf("ar:invoice:%s:lock", invoiceID)
}

// Mutex is a best-effort distributed lock over Redis. Payment recording takes
// it per invoice so two feeds reporting the same payment never apply against
// the same pre-payment state.
type Mutex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMutex constructs a Mutex with the given auto-expiry.
func NewMutex(client *redis.Client, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mutex{client: client, ttl: ttl}
}

// Acquire takes the lock for key, returning a release token. ErrLockHeld when
// another holder owns it.
func (m *Mutex) Acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release frees the lock if token still owns it.
func (m *Mutex) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, m.client, []string{key}, token).Err()
}

// WithLock runs fn while holding the lock for key.
func (m *Mutex) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	token, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = m.Release(releaseCtx, key, token)
	}()
	return fn(ctx)
}
