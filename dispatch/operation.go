package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// AuthTokenHeader carries the token on every request.
	AuthTokenHeader = "X-Auth-Token"
	// TransactionIDHeader is stamped with one id per dispatch, shared by all of its attempts.
	TransactionIDHeader = "X-Trans-Id-Extra"
)

// Token is an auth token handed out by a TokenAuthority for one endpoint.
//
// StorageURL is optional. When set, operation paths are resolved against it
// instead of the endpoint address (Swift v1 auth returns the account URL
// next to the token).
type Token struct {
	Value      string    `json:"value"`
	StorageURL string    `json:"storage_url,omitempty"`
	Expires    time.Time `json:"expires,omitempty"`
}

// Expired reports whether the token has a known expiry that already passed.
func (t Token) Expired(now time.Time) bool {
	return !t.Expires.IsZero() && !now.Before(t.Expires)
}

// TokenAuthority supplies a currently valid token for an endpoint and can be
// told that a token was rejected. Implementations must be safe for
// concurrent use.
type TokenAuthority interface {
	Token(ctx context.Context, endpoint string) (Token, error)
	Invalidate(ctx context.Context, endpoint string, token Token)
}

// Transport sends a single request. *http.Client satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// Operation is an endpoint-agnostic request.
//
// Path is the escaped, endpoint-relative path (e.g. "/container/object").
// Body, when set, is rewound before every attempt.
type Operation struct {
	Method        string
	Path          string
	Query         url.Values
	Header        http.Header
	Body          io.ReadSeeker
	ContentLength int64
}

func (op Operation) String() string {
	return fmt.Sprintf("%s %s", op.Method, op.Path)
}

func (op Operation) newRequest(ctx context.Context, endpoint string, token Token, transactionID string) (*http.Request, error) {
	base := endpoint
	if token.StorageURL != "" {
		base = token.StorageURL
	}

	target := strings.TrimRight(base, "/") + op.Path
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse url %s: %w", target, err)
	}
	if len(op.Query) > 0 {
		u.RawQuery = op.Query.Encode()
	}

	var body io.Reader
	size := op.ContentLength
	if op.Body != nil {
		if size <= 0 {
			if size, err = op.Body.Seek(0, io.SeekEnd); err != nil {
				return nil, fmt.Errorf("measure body: %w", err)
			}
		}
		if _, err := op.Body.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind body: %w", err)
		}
		if size > 0 {
			body = io.NopCloser(op.Body)
		}
	}

	method := op.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, values := range op.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.ContentLength = size
	}
	req.Header.Set(AuthTokenHeader, token.Value)
	if transactionID != "" {
		req.Header.Set(TransactionIDHeader, transactionID)
	}

	return req, nil
}
