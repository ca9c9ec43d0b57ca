package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

type scriptedTransport struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	respond  func(n int, req *http.Request) (*http.Response, error)
}

func (t *scriptedTransport) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}

	t.mu.Lock()
	n := len(t.requests)
	t.requests = append(t.requests, req)
	t.bodies = append(t.bodies, body)
	t.mu.Unlock()

	return t.respond(n, req)
}

func (t *scriptedTransport) hosts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	hosts := make([]string, 0, len(t.requests))
	for _, req := range t.requests {
		hosts = append(hosts, req.URL.Host)
	}
	return hosts
}

func (t *scriptedTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func statusResponse(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(http.StatusText(code))),
	}
}

func always(code int) func(int, *http.Request) (*http.Response, error) {
	return func(int, *http.Request) (*http.Response, error) {
		return statusResponse(code), nil
	}
}

func networkDown(int, *http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

type fakeAuthority struct {
	mu          sync.Mutex
	issued      map[string]int
	invalidated []Token
	storageURL  string
	err         error
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{issued: map[string]int{}}
}

func (a *fakeAuthority) Token(_ context.Context, endpoint string) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return Token{}, a.err
	}
	a.issued[endpoint]++
	return Token{
		Value:      fmt.Sprintf("token-%d", a.issued[endpoint]),
		StorageURL: a.storageURL,
	}, nil
}

func (a *fakeAuthority) Invalidate(_ context.Context, _ string, token Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidated = append(a.invalidated, token)
}

func (a *fakeAuthority) invalidations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.invalidated)
}

type recordingSink struct {
	mu            sync.Mutex
	retries       []string
	authRefreshed []string
}

func (s *recordingSink) OnRetry(endpoint string, attempt int, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, fmt.Sprintf("%s#%d", endpoint, attempt))
}

func (s *recordingSink) OnAuthRefresh(endpoint string, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authRefreshed = append(s.authRefreshed, fmt.Sprintf("%s#%d", endpoint, attempt))
}
