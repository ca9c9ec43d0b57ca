package tokenauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	authPath            = "/auth/v1.0"
	authUserHeader      = "X-Auth-User"
	authKeyHeader       = "X-Auth-Key"
	storageURLHeader    = "X-Storage-Url"
	tokenExpiresHeader  = "X-Auth-Token-Expires"
	maxErrorMessageSize = 1024
)

// Authenticator acquires a fresh token from an endpoint.
type Authenticator interface {
	Authenticate(ctx context.Context, endpoint string) (dispatch.Token, error)
}

// TempAuthenticator implements Swift v1 (tempauth) authentication:
// GET {endpoint}/auth/v1.0 with the user and key headers.
type TempAuthenticator struct {
	Client *retryablehttp.Client

	username string
	password string
	logger   log.Logger
	now      func() time.Time
}

// NewTempAuthenticator returns an authenticator whose client sends each
// request exactly once. Retrying a failed authentication is the dispatcher's
// job and is counted against its budget.
func NewTempAuthenticator(username, password string, logger log.Logger) *TempAuthenticator {
	if logger == nil {
		logger = log.NewLogger()
	}
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0

	return &TempAuthenticator{
		Client:   client,
		username: username,
		password: password,
		logger:   logger,
		now:      time.Now,
	}
}

// Authenticate ...
func (a *TempAuthenticator) Authenticate(ctx context.Context, endpoint string) (dispatch.Token, error) {
	url := strings.TrimRight(endpoint, "/") + authPath

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return dispatch.Token{}, err
	}
	req.Header.Set(authUserHeader, a.username)
	req.Header.Set(authKeyHeader, a.password)

	a.logger.Debugf("Authenticating %s against %s", a.username, endpoint)
	resp, err := a.Client.Do(req)
	if err != nil {
		return dispatch.Token{}, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			a.logger.Printf("%s", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return dispatch.Token{}, unwrapError(resp)
	}

	token := dispatch.Token{
		Value:      resp.Header.Get(dispatch.AuthTokenHeader),
		StorageURL: resp.Header.Get(storageURLHeader),
	}
	if token.Value == "" {
		return dispatch.Token{}, fmt.Errorf("no %s in auth response", dispatch.AuthTokenHeader)
	}
	if expires := resp.Header.Get(tokenExpiresHeader); expires != "" {
		seconds, err := strconv.ParseInt(expires, 10, 64)
		if err != nil {
			a.logger.Warnf("Invalid %s header: %s", tokenExpiresHeader, expires)
		} else {
			token.Expires = a.now().Add(time.Duration(seconds) * time.Second)
		}
	}

	return token, nil
}

// RejectedError is returned when the auth endpoint refused the credentials.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == dispatch.ErrCredentialsRejected
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorMessageSize))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &RejectedError{StatusCode: resp.StatusCode, Message: string(errorResp)}
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
