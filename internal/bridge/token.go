package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartherbridge/internal/infrastructure/logging"
	"smartherbridge/internal/smarther"
)

// ErrRefresh wraps any failure to obtain or persist a refreshed
// credential. Callers match it with errors.Is and abort only the
// operation that needed the token.
var ErrRefresh = errors.New("bridge: credential refresh failed")

const (
	// refreshThreshold is how close to access-token expiry a refresh is
	// considered due.
	refreshThreshold = 5 * time.Minute

	// maxRefreshInterval caps the time between refreshes. Refresh tokens
	// expire after 90 days on the platform side; refreshing at least every
	// 85 keeps a healthy margin even if the process never observes an
	// access-token expiry.
	maxRefreshInterval = 85 * 24 * time.Hour

	// refreshRetryInterval is the delay before retrying a failed refresh.
	refreshRetryInterval = 5 * time.Minute
)

// CloudAPI is the subset of the Smarther client the bridge tasks use.
// Narrowed to an interface so tests can substitute a fake platform.
type CloudAPI interface {
	RefreshToken(ctx context.Context, auth smarther.AuthorizationInfo) (smarther.AuthorizationInfo, error)
	SetDeviceStatus(ctx context.Context, auth smarther.AuthorizationInfo, plantID, moduleID string, req smarther.SetStatusRequest) error
	Webhooks(ctx context.Context, auth smarther.AuthorizationInfo) ([]smarther.SubscriptionInfo, error)
	RegisterWebhook(ctx context.Context, auth smarther.AuthorizationInfo, plantID, endpointURL string) (smarther.SubscriptionInfo, error)
	UnregisterWebhook(ctx context.Context, auth smarther.AuthorizationInfo, plantID, subscriptionID string) error
}

// AuthStore persists refreshed credentials.
type AuthStore interface {
	SaveAuth(auth smarther.AuthorizationInfo) error
}

// TokenManager owns the OAuth credential for the lifetime of the process.
//
// It is the single writer: other tasks read the current credential via
// Current and request an out-of-band refresh via Refresh (after a 401).
// A background watchdog started with Run keeps the credential fresh on
// its own schedule.
//
// Thread Safety:
//   - Current and Refresh are safe for concurrent use.
//   - The refreshed credential is persisted before it becomes visible in
//     memory, so the on-disk snapshot never lags behind what callers use.
type TokenManager struct {
	api    CloudAPI
	store  AuthStore
	logger *logging.Logger

	mu   sync.RWMutex
	auth smarther.AuthorizationInfo

	// refreshMu serializes actual refresh calls so concurrent 401s
	// trigger one platform round trip, not a stampede.
	refreshMu sync.Mutex

	// reset wakes the watchdog after an out-of-band refresh so it
	// recomputes its timer. Capacity 1 with non-blocking sends: multiple
	// refreshes before the watchdog wakes coalesce into one signal.
	reset chan struct{}
}

// NewTokenManager creates a token manager seeded with the credential
// loaded from the snapshot.
func NewTokenManager(api CloudAPI, store AuthStore, auth smarther.AuthorizationInfo, logger *logging.Logger) *TokenManager {
	return &TokenManager{
		api:    api,
		store:  store,
		auth:   auth,
		logger: logger,
		reset:  make(chan struct{}, 1),
	}
}

// Current returns the credential as of now. The returned value is a
// snapshot; it does not change under the caller.
func (m *TokenManager) Current() smarther.AuthorizationInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auth
}

// RefreshIfNeeded refreshes the credential when its remaining lifetime is
// below the threshold and returns the credential to use. When the token
// is still fresh this is a cheap read.
func (m *TokenManager) RefreshIfNeeded(ctx context.Context) (smarther.AuthorizationInfo, error) {
	current := m.Current()
	if !current.RefreshNeeded(refreshThreshold) {
		return current, nil
	}
	return m.Refresh(ctx, current)
}

// Refresh exchanges the refresh token for a new credential pair. Callers
// pass the credential that proved stale (expired locally, or rejected by
// the platform); if it has already been replaced the replacement is
// returned without another platform call, so concurrent 401s trigger one
// refresh, not a stampede.
func (m *TokenManager) Refresh(ctx context.Context, stale smarther.AuthorizationInfo) (smarther.AuthorizationInfo, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	current := m.Current()
	if current.AccessToken != stale.AccessToken {
		return current, nil
	}

	refreshed, err := m.api.RefreshToken(ctx, current)
	if err != nil {
		return smarther.AuthorizationInfo{}, fmt.Errorf("%w: %w", ErrRefresh, err)
	}

	// Persist before swap: if the write fails the old (still valid on
	// disk) credential stays current in memory too.
	if err := m.store.SaveAuth(refreshed); err != nil {
		return smarther.AuthorizationInfo{}, fmt.Errorf("%w: persisting: %w", ErrRefresh, err)
	}

	m.mu.Lock()
	m.auth = refreshed
	m.mu.Unlock()

	m.logger.Info("credential refreshed", "expires_on", refreshed.ExpiresOn)

	select {
	case m.reset <- struct{}{}:
	default:
	}

	return refreshed, nil
}

// Run is the refresh watchdog. It sleeps until the next refresh is due,
// refreshes, and repeats; failed refreshes are retried every five
// minutes. An out-of-band refresh resets the timer. Run returns when the
// context is cancelled.
func (m *TokenManager) Run(ctx context.Context) {
	for {
		wait := m.nextRefreshIn()

		select {
		case <-ctx.Done():
			return
		case <-m.reset:
			continue
		case <-time.After(wait):
		}

		if _, err := m.Refresh(ctx, m.Current()); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("scheduled credential refresh failed", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-m.reset:
			case <-time.After(refreshRetryInterval):
			}
		}
	}
}

// nextRefreshIn computes how long the watchdog should sleep before the
// next refresh, capped at the refresh-token safety interval.
func (m *TokenManager) nextRefreshIn() time.Duration {
	current := m.Current()

	wait := maxRefreshInterval
	if !current.ExpiresOn.IsZero() {
		untilDue := time.Until(current.ExpiresOn) - refreshThreshold
		if untilDue < wait {
			wait = untilDue
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}
