// Package tokenauth provides a dispatch.TokenAuthority backed by a token
// Store and a Swift v1 Authenticator.
package tokenauth

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/singleflight"
)

// refreshTimeout bounds a shared authentication, which outlives the caller
// that started it.
const refreshTimeout = time.Minute

// Authority hands out cached tokens and refreshes them on demand. Concurrent
// refreshes for the same endpoint are collapsed into one authentication.
type Authority struct {
	username      string
	authenticator Authenticator
	store         Store
	logger        log.Logger
	group         singleflight.Group
	now           func() time.Time
}

// NewAuthority ...
func NewAuthority(username string, authenticator Authenticator, store Store, logger log.Logger) *Authority {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Authority{
		username:      username,
		authenticator: authenticator,
		store:         store,
		logger:        logger,
		now:           time.Now,
	}
}

// Token returns the cached token for endpoint, authenticating if there is
// none or it has expired.
func (a *Authority) Token(ctx context.Context, endpoint string) (dispatch.Token, error) {
	key := a.key(endpoint)

	token, ok, err := a.store.Get(key)
	if err != nil {
		a.logger.Warnf("Failed to read cached token: %s", err)
	} else if ok && !token.Expired(a.now()) {
		return token, nil
	}

	// The shared refresh must not be cut short by whichever caller started it.
	detached := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (interface{}, error) {
		authCtx, cancel := context.WithTimeout(detached, refreshTimeout)
		defer cancel()

		token, err := a.authenticator.Authenticate(authCtx, endpoint)
		if err != nil {
			return dispatch.Token{}, err
		}
		if err := a.store.Set(key, token); err != nil {
			a.logger.Warnf("Failed to cache token: %s", err)
		}
		return token, nil
	})

	select {
	case <-ctx.Done():
		return dispatch.Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return dispatch.Token{}, fmt.Errorf("authenticate against %s: %w", endpoint, res.Err)
		}
		return res.Val.(dispatch.Token), nil
	}
}

// Invalidate drops token from the store unless it was already replaced.
func (a *Authority) Invalidate(_ context.Context, endpoint string, token dispatch.Token) {
	if err := a.store.Delete(a.key(endpoint), token); err != nil {
		a.logger.Warnf("Failed to invalidate cached token: %s", err)
	}
}

func (a *Authority) key(endpoint string) string {
	return a.username + "@" + endpoint
}
