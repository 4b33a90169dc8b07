// Package token caches the shared platform bearer token and keeps it fresh.
package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// validityWindow is how long a freshly issued bearer is trusted. The
// platform issues tokens valid for longer; refreshing early is harmless.
const validityWindow = 7 * time.Hour

// Authenticator performs the remote login call
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// snapshot is an immutable (bearer, expiry) pair. Readers load it without
// locking; it is only ever replaced, never mutated.
type snapshot struct {
	bearer string
	expiry time.Time
}

// Cache holds the single process-wide bearer token for the platform
// account and refreshes it on expiry. Many goroutines may ask for the
// token concurrently; at most one login happens per expiry cycle.
type Cache struct {
	auth     Authenticator
	username string
	password string
	logger   *logrus.Logger
	now      func() time.Time

	refreshMu sync.Mutex
	current   atomic.Pointer[snapshot]
}

// NewCache creates a token cache for the given platform account
func NewCache(auth Authenticator, username, password string, logger *logrus.Logger) (*Cache, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("platform account credentials are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Cache{
		auth:     auth,
		username: username,
		password: password,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Token returns the current bearer, refreshing it first if it is missing
// or expired. A refresh failure leaves any prior token untouched; the next
// caller retries.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if s := c.current.Load(); s != nil && c.now().Before(s.expiry) {
		return s.bearer, nil
	}
	return c.refresh(ctx)
}

// Valid reports whether a non-expired token is currently held, without
// triggering a refresh
func (c *Cache) Valid() bool {
	s := c.current.Load()
	return s != nil && c.now().Before(s.expiry)
}

// refresh performs the remote login under the refresh lock, re-checking
// validity inside it so concurrent callers piggyback on one login.
func (c *Cache) refresh(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if s := c.current.Load(); s != nil && c.now().Before(s.expiry) {
		return s.bearer, nil
	}

	c.logger.Info("Requesting platform token")
	bearer, err := c.auth.Login(ctx, c.username, c.password)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	expiry := c.now().Add(validityWindow)
	if claimExpiry, ok := bearerExpiry(bearer); ok && claimExpiry.Before(expiry) {
		expiry = claimExpiry
	}

	c.current.Store(&snapshot{bearer: bearer, expiry: expiry})
	c.logger.WithField("expires_at", expiry.Format(time.RFC3339)).Info("Platform token refreshed")

	return bearer, nil
}

// bearerExpiry extracts the exp claim from the bearer when it is a JWT.
// The signature is not verified; the claim only shortens the local validity
// window, it never extends it.
func bearerExpiry(bearer string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(bearer, claims); err != nil {
		return time.Time{}, false
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, false
	}

	return expiry.Time, true
}
