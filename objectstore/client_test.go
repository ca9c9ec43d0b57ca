package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	swifttest "github.com/bitrise-io/go-swiftclient/internal/testing"
	"github.com/bitrise-io/go-swiftclient/objectstore/segmentuploader"
	"github.com/bitrise-io/go-swiftclient/tokenauth"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "tester"
	testPassword = "secret"
)

func newTestClient(t *testing.T, server *swifttest.Server) *Client {
	t.Helper()
	return newTestClientWith(t, server, testPassword, nil)
}

func newTestClientWith(t *testing.T, server *swifttest.Server, password string, configure func(*Config)) *Client {
	t.Helper()

	logger := log.NewLogger()
	authenticator := tokenauth.NewTempAuthenticator(testUser, password, logger)

	dispatcher, err := dispatch.New(dispatch.Config{
		Endpoints: []string{server.URL},
		Budget:    dispatch.RetryBudget{TotalAttempts: 4, PerEndpointAttempts: 2},
		Authority: tokenauth.NewAuthority(testUser, authenticator, nil, logger),
		Logger:    logger,
	})
	require.NoError(t, err)

	cfg := Config{
		Dispatcher:   dispatcher,
		Logger:       logger,
		SegmentSize:  10,
		PrefetchSize: 16,
		Uploader:     segmentuploader.Config{Concurrency: 3},
		CleanupWait:  time.Millisecond,
	}
	if configure != nil {
		configure(&cfg)
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{})
	assert.EqualError(t, err, "dispatcher must not be nil")

	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	client := newTestClient(t, server)
	assert.Equal(t, int64(10), client.SegmentSize())
	assert.Equal(t, "builds_segments", client.SegmentContainer("builds"))
}

func TestClient_ObjectLifecycle(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	client := newTestClient(t, server)
	ctx := context.Background()

	resp, err := client.PutContainer(ctx, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	header := MetadataHeader(map[string]string{"Filename": "report.txt"})
	header.Set("Content-Type", "text/plain")
	resp, err = client.PutObject(ctx, "c", "dir/report.txt", bytes.NewReader([]byte("hello")), header)
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())
	assert.NotEmpty(t, resp.Header.Get("ETag"))

	resp, err = client.HeadObject(ctx, "c", "dir/report.txt")
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.Equal(t, int64(5), resp.ContentLength)
	assert.Equal(t, map[string]string{"Filename": "report.txt"}, resp.Metadata())

	resp, err = client.GetObject(ctx, "c", "dir/report.txt", nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Close())
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	resp, err = client.DeleteObject(ctx, "c", "dir/report.txt")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, swifttest.NewObjectChecker(server, "c", "dir/report.txt").Missing().Check())
}

func TestClient_SemanticFailureIsNotAnError(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	server.PutObject("c", "other", []byte("x"))
	client := newTestClient(t, server)

	resp, err := client.GetObject(context.Background(), "c", "missing", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Nil(t, resp.Body)
	assert.True(t, IsNotFound(resp.Err()))
	assert.Equal(t, 1, server.CountRequests(http.MethodGet, "/c/missing"))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	server.PutObject("c", "other", nil)
	client := newTestClient(t, server)

	server.Fail(http.MethodPut, "/c/o", http.StatusServiceUnavailable)
	resp, err := client.PutObject(context.Background(), "c", "o", bytes.NewReader([]byte("payload")), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 2, server.CountRequests(http.MethodPut, "/c/o"))

	require.NoError(t, swifttest.NewObjectChecker(server, "c", "o").Content([]byte("payload")).Check())
}

func TestClient_RetryExhausted(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	server.PutObject("c", "o", []byte("x"))
	client := newTestClient(t, server)

	server.Fail(http.MethodGet, "/c/o", http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout)
	_, err := client.GetObject(context.Background(), "c", "o", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrRetryExhausted)
	assert.Equal(t, 4, server.CountRequests(http.MethodGet, "/c/o"))
}

func TestClient_WrongPassword(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	server.PutObject("c", "o", []byte("x"))
	client := newTestClientWith(t, server, "wrong", nil)

	_, err := client.HeadObject(context.Background(), "c", "o")

	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrAuthentication)
	assert.False(t, errors.Is(err, dispatch.ErrRetryExhausted))
	assert.Empty(t, server.Requests())
	assert.Equal(t, 0, server.AuthCount())
}

func TestClient_RefreshesRevokedToken(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	server.PutObject("c", "o", []byte("x"))
	client := newTestClient(t, server)
	ctx := context.Background()

	resp, err := client.HeadObject(ctx, "c", "o")
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	server.RevokeTokens()

	resp, err = client.HeadObject(ctx, "c", "o")
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.Equal(t, 2, server.AuthCount())
}

func TestClient_CopyObject(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	server.PutObject("src", "a.bin", []byte("content"))
	server.PutObject("dst", ".keep", nil)
	client := newTestClient(t, server)

	header := MetadataHeader(map[string]string{"Filename": "a.bin"})
	header.Set("Content-Disposition", `attachment; filename="a.bin"`)
	resp, err := client.CopyObject(context.Background(), "src", "a.bin", "dst", "renamed.bin", header)
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	require.NoError(t, swifttest.NewObjectChecker(server, "dst", "renamed.bin").
		Content([]byte("content")).
		Header("X-Object-Meta-Filename", "a.bin").
		Header("Content-Disposition", `attachment; filename="a.bin"`).
		Check())
}

func TestClient_ListObjects(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	for _, name := range []string{"a/1", "a/2", "a/3", "b/1", "b/2"} {
		server.PutObject("c", name, []byte(name))
	}
	client := newTestClient(t, server)
	ctx := context.Background()

	tests := []struct {
		name      string
		opts      ListOptions
		wantNames []string
		wantPages int
	}{
		{name: "all in pages", opts: ListOptions{PageSize: 2}, wantNames: []string{"a/1", "a/2", "a/3", "b/1", "b/2"}, wantPages: 3},
		{name: "prefix", opts: ListOptions{Prefix: "b/"}, wantNames: []string{"b/1", "b/2"}, wantPages: 1},
		{name: "marker", opts: ListOptions{Marker: "a/3"}, wantNames: []string{"b/1", "b/2"}, wantPages: 1},
		{name: "limit", opts: ListOptions{Limit: 3, PageSize: 2}, wantNames: []string{"a/1", "a/2", "a/3"}, wantPages: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server.ResetRequests()

			objects, err := client.ListObjects(ctx, "c", tt.opts)
			require.NoError(t, err)

			var names []string
			for _, object := range objects {
				names = append(names, object.Name)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantPages, server.CountRequests(http.MethodGet, "/c"))
		})
	}

	_, err := client.ListObjects(ctx, "missing", ListOptions{})
	assert.True(t, IsNotFound(err))
}

func TestClient_DeleteContainerContents(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	for _, name := range []string{"x", "y/z", "w w"} {
		server.PutObject("c", name, []byte(name))
	}
	client := newTestClient(t, server)

	result, err := client.DeleteContainerContents(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, 3, result.NumberDeleted)
	assert.Empty(t, server.ObjectNames("c"))

	resp, err := client.DeleteContainer(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	result, err = client.DeleteContainerContents(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, 0, result.NumberDeleted)
}

func TestClient_DeleteMatching(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	for _, name := range []string{"logs/a.log", "logs/deep/b.log", "logs/c.txt", "d.log"} {
		server.PutObject("c", name, []byte(name))
	}
	client := newTestClient(t, server)

	result, err := client.DeleteMatching(context.Background(), "c", "logs/**/*.log")
	require.NoError(t, err)
	assert.Equal(t, 2, result.NumberDeleted)
	assert.Equal(t, []string{"d.log", "logs/c.txt"}, server.ObjectNames("c"))

	_, err = client.DeleteMatching(context.Background(), "c", "logs/[")
	assert.Error(t, err)
}

func TestClient_InvalidNames(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	client := newTestClient(t, server)
	ctx := context.Background()

	_, err := client.PutContainer(ctx, "a/b", nil)
	assert.Error(t, err)
	_, err = client.GetObject(ctx, "c", "", nil)
	assert.Error(t, err)
	assert.Empty(t, server.Requests())
}

func TestClient_Cancelled(t *testing.T) {
	server := swifttest.NewServer(testUser, testPassword)
	defer server.Close()
	client := newTestClient(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.HeadObject(ctx, "c", "o")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrCancelled))
	assert.Empty(t, server.Requests())
}
