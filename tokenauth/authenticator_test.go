package tokenauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempAuthenticator_Authenticate(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, authPath, r.URL.Path)
		if r.Header.Get(authUserHeader) != "test:tester" || r.Header.Get(authKeyHeader) != "testing" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("bad credentials"))
			return
		}
		w.Header().Set("X-Auth-Token", "AUTH_tk123")
		w.Header().Set(storageURLHeader, "http://storage.example/v1/AUTH_test")
		w.Header().Set(tokenExpiresHeader, "3600")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cases := []struct {
		name     string
		password string
		wantErr  string
	}{
		{name: "valid credentials", password: "testing"},
		{name: "invalid credentials", password: "wrong", wantErr: "HTTP 401: bad credentials"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authenticator := NewTempAuthenticator("test:tester", tc.password, log.NewLogger())
			authenticator.now = func() time.Time { return now }

			token, err := authenticator.Authenticate(context.Background(), server.URL+"/")

			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				assert.ErrorIs(t, err, dispatch.ErrCredentialsRejected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "AUTH_tk123", token.Value)
			assert.Equal(t, "http://storage.example/v1/AUTH_test", token.StorageURL)
			assert.Equal(t, now.Add(time.Hour), token.Expires)
		})
	}
}

func TestTempAuthenticator_SendsOnce(t *testing.T) {
	var sends int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sends, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	authenticator := NewTempAuthenticator("test:tester", "testing", nil)

	start := time.Now()
	_, err := authenticator.Authenticate(context.Background(), server.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.NotErrorIs(t, err, dispatch.ErrCredentialsRejected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&sends))
	assert.Less(t, time.Since(start), time.Second)
}
