package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAuthenticator struct {
	calls   int32
	delay   time.Duration
	expires time.Time
	err     error
	started chan struct{}
}

func (a *countingAuthenticator) Authenticate(ctx context.Context, endpoint string) (dispatch.Token, error) {
	n := atomic.AddInt32(&a.calls, 1)
	if a.started != nil && n == 1 {
		close(a.started)
	}
	select {
	case <-ctx.Done():
		return dispatch.Token{}, ctx.Err()
	case <-time.After(a.delay):
	}
	if a.err != nil {
		return dispatch.Token{}, a.err
	}
	return dispatch.Token{
		Value:      fmt.Sprintf("token-%d", n),
		StorageURL: endpoint + "/v1/AUTH_test",
		Expires:    a.expires,
	}, nil
}

func (a *countingAuthenticator) count() int {
	return int(atomic.LoadInt32(&a.calls))
}

func TestAuthority_CachesPerEndpoint(t *testing.T) {
	authenticator := &countingAuthenticator{}
	authority := NewAuthority("tester", authenticator, nil, log.NewLogger())

	first, err := authority.Token(context.Background(), "http://a.example")
	require.NoError(t, err)
	again, err := authority.Token(context.Background(), "http://a.example")
	require.NoError(t, err)
	other, err := authority.Token(context.Background(), "http://b.example")
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first.Value, other.Value)
	assert.Equal(t, "http://b.example/v1/AUTH_test", other.StorageURL)
	assert.Equal(t, 2, authenticator.count())
}

func TestAuthority_ConcurrentRefreshAuthenticatesOnce(t *testing.T) {
	authenticator := &countingAuthenticator{delay: 50 * time.Millisecond}
	authority := NewAuthority("tester", authenticator, NewMemoryStore(), log.NewLogger())

	var wg sync.WaitGroup
	tokens := make([]dispatch.Token, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := authority.Token(context.Background(), "http://a.example")
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, authenticator.count())
	for _, token := range tokens {
		assert.Equal(t, "token-1", token.Value)
	}
}

func TestAuthority_InvalidateForcesRefresh(t *testing.T) {
	authenticator := &countingAuthenticator{}
	authority := NewAuthority("tester", authenticator, nil, log.NewLogger())

	stale, err := authority.Token(context.Background(), "http://a.example")
	require.NoError(t, err)

	authority.Invalidate(context.Background(), "http://a.example", stale)
	fresh, err := authority.Token(context.Background(), "http://a.example")
	require.NoError(t, err)
	assert.Equal(t, "token-2", fresh.Value)

	// a late invalidation of the stale token keeps the fresh one
	authority.Invalidate(context.Background(), "http://a.example", stale)
	current, err := authority.Token(context.Background(), "http://a.example")
	require.NoError(t, err)
	assert.Equal(t, fresh, current)
	assert.Equal(t, 2, authenticator.count())
}

func TestAuthority_ExpiredTokenIsRefreshed(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	authenticator := &countingAuthenticator{expires: now.Add(time.Minute)}
	authority := NewAuthority("tester", authenticator, nil, log.NewLogger())
	authority.now = func() time.Time { return now }

	_, err := authority.Token(context.Background(), "http://a.example")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	token, err := authority.Token(context.Background(), "http://a.example")
	require.NoError(t, err)
	assert.Equal(t, "token-2", token.Value)
}

func TestAuthority_AuthenticationError(t *testing.T) {
	authenticator := &countingAuthenticator{err: errors.New("HTTP 401: invalid credentials")}
	authority := NewAuthority("tester", authenticator, nil, log.NewLogger())

	_, err := authority.Token(context.Background(), "http://a.example")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "authenticate against http://a.example")
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestAuthority_CallerCancellationDoesNotFailSharedRefresh(t *testing.T) {
	authenticator := &countingAuthenticator{delay: 200 * time.Millisecond, started: make(chan struct{})}
	authority := NewAuthority("tester", authenticator, nil, log.NewLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := authority.Token(firstCtx, "http://a.example")
		firstErr <- err
	}()
	<-authenticator.started

	secondToken := make(chan dispatch.Token, 1)
	secondErr := make(chan error, 1)
	go func() {
		token, err := authority.Token(context.Background(), "http://a.example")
		secondToken <- token
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancelFirst()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	token := <-secondToken
	require.NoError(t, <-secondErr)
	assert.Equal(t, "token-1", token.Value)
	assert.Equal(t, 1, authenticator.count())
}

type failingStore struct{}

func (failingStore) Get(string) (dispatch.Token, bool, error) {
	return dispatch.Token{}, false, errors.New("store unavailable")
}

func (failingStore) Set(string, dispatch.Token) error {
	return errors.New("store unavailable")
}

func (failingStore) Delete(string, dispatch.Token) error {
	return errors.New("store unavailable")
}

func TestAuthority_NilLoggerDefaults(t *testing.T) {
	authority := NewAuthority("tester", &countingAuthenticator{}, failingStore{}, nil)

	token, err := authority.Token(context.Background(), "http://a.example")
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.Value)

	authority.Invalidate(context.Background(), "http://a.example", token)
}
