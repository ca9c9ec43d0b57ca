// Package dispatch executes endpoint-agnostic operations against a set of
// redundant front-end endpoints, hiding transient failures, endpoint outages
// and token expiry behind a bounded retry loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBodySize = 1024

// Config holds the dependencies and limits of a Dispatcher.
type Config struct {
	Endpoints []string
	Budget    RetryBudget
	Authority TokenAuthority

	// Transport defaults to a pooled client from go-cleanhttp.
	Transport Transport
	// RetryPolicy defaults to DefaultRetryPolicy.
	RetryPolicy RetryPolicy
	// Backoff is the wait between transient failures. Nil disables waiting.
	Backoff    retryablehttp.Backoff
	BackoffMin time.Duration
	BackoffMax time.Duration
	// AttemptTimeout bounds a single attempt. An attempt hitting it is a
	// transient failure. Zero means no limit.
	AttemptTimeout time.Duration

	// Sink defaults to NopSink.
	Sink   Sink
	Logger log.Logger
}

// Dispatcher is safe for concurrent use; every Dispatch call owns its own
// state and the only shared mutable collaborator is the TokenAuthority.
type Dispatcher struct {
	endpoints      []string
	budget         RetryBudget
	authority      TokenAuthority
	transport      Transport
	retryPolicy    RetryPolicy
	backoff        retryablehttp.Backoff
	backoffMin     time.Duration
	backoffMax     time.Duration
	attemptTimeout time.Duration
	sink           Sink
	logger         log.Logger
}

// New ...
func New(config Config) (*Dispatcher, error) {
	if err := validateEndpoints(config.Endpoints); err != nil {
		return nil, err
	}
	if err := config.Budget.Validate(); err != nil {
		return nil, err
	}
	if config.Authority == nil {
		return nil, errors.New("token authority must not be nil")
	}

	d := &Dispatcher{
		endpoints:      append([]string(nil), config.Endpoints...),
		budget:         config.Budget,
		authority:      config.Authority,
		transport:      config.Transport,
		retryPolicy:    config.RetryPolicy,
		backoff:        config.Backoff,
		backoffMin:     config.BackoffMin,
		backoffMax:     config.BackoffMax,
		attemptTimeout: config.AttemptTimeout,
		sink:           config.Sink,
		logger:         config.Logger,
	}
	if d.transport == nil {
		d.transport = cleanhttp.DefaultPooledClient()
	}
	if d.retryPolicy == nil {
		d.retryPolicy = DefaultRetryPolicy
	}
	if d.sink == nil {
		d.sink = NopSink
	}
	if d.logger == nil {
		d.logger = log.NewLogger()
	}

	return d, nil
}

// Endpoints returns a copy of the endpoint set in rotation order.
func (d *Dispatcher) Endpoints() []string {
	return append([]string(nil), d.endpoints...)
}

// Budget ...
func (d *Dispatcher) Budget() RetryBudget {
	return d.budget
}

// state is owned by exactly one in-flight Dispatch call.
type state struct {
	endpointIndex    int
	endpointAttempts int
	attempts         int
	failures         map[string]error
	lastAuthFailure  bool
	lastEndpoint     string
	lastErr          error
}

func (s *state) rotate(endpointCount int) {
	s.endpointIndex = (s.endpointIndex + 1) % endpointCount
	s.endpointAttempts = 0
}

func (s *state) exhausted() error {
	if s.lastAuthFailure {
		return &AuthenticationError{
			Endpoint: s.lastEndpoint,
			Attempts: s.attempts - 1,
			Err:      s.lastErr,
		}
	}
	failures := make(map[string]error, len(s.failures))
	for k, v := range s.failures {
		failures[k] = v
	}
	return &RetryExhaustedError{
		Attempts: s.attempts - 1,
		Failures: failures,
		Last:     s.lastErr,
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeSemantic
	outcomeAuth
	outcomeTransient
	outcomeCancelled
	outcomeInvalid
	outcomeAborted
)

type attemptResult struct {
	outcome outcome
	resp    *http.Response
	token   Token
	err     error
}

// Dispatch executes op with bounded retries, endpoint rotation and
// token-refresh-and-retry on 401.
//
// It returns the response for any 2xx status and for any status the retry
// policy considers semantic (404, 400, ...); the caller must close its body.
// Otherwise it returns one of *RetryExhaustedError, *AuthenticationError or
// *CancelledError. Attempts are strictly sequential.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation) (*http.Response, error) {
	st := &state{failures: map[string]error{}}
	transactionID := uuid.NewString()

	for {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Err: err}
		}

		st.attempts++
		if st.attempts > d.budget.TotalAttempts {
			err := st.exhausted()
			d.logger.Debugf("%s [%s]: %s", op, transactionID, err)
			return nil, err
		}

		endpoint := d.endpoints[st.endpointIndex]
		d.logger.Debugf("%s [%s]: attempt %d/%d on %s", op, transactionID, st.attempts, d.budget.TotalAttempts, endpoint)

		result := d.attempt(ctx, op, endpoint, st.attempts, transactionID)
		switch result.outcome {
		case outcomeSuccess, outcomeSemantic:
			return result.resp, nil
		case outcomeCancelled:
			return nil, &CancelledError{Err: result.err}
		case outcomeInvalid:
			return nil, fmt.Errorf("invalid operation %s: %w", op, result.err)
		case outcomeAborted:
			return nil, fmt.Errorf("%s: %w", op, result.err)
		case outcomeAuth:
			if result.token.Value != "" {
				d.authority.Invalidate(ctx, endpoint, result.token)
			}
			notifyAuthRefresh(d.sink, endpoint, st.attempts)
			st.lastAuthFailure = true
			st.lastEndpoint = endpoint
			st.lastErr = result.err
		case outcomeTransient:
			notifyRetry(d.sink, endpoint, st.attempts, result.err)
			st.failures[endpoint] = result.err
			st.lastAuthFailure = false
			st.lastEndpoint = endpoint
			st.lastErr = result.err

			st.endpointAttempts++
			if st.endpointAttempts >= d.budget.PerEndpointAttempts {
				st.rotate(len(d.endpoints))
			}

			if st.attempts < d.budget.TotalAttempts {
				if err := d.wait(ctx, st.attempts, result.resp); err != nil {
					return nil, &CancelledError{Err: err}
				}
			}
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, op Operation, endpoint string, attempt int, transactionID string) attemptResult {
	token, err := d.authority.Token(ctx, endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{outcome: outcomeCancelled, err: ctx.Err()}
		}
		if errors.Is(err, ErrCredentialsRejected) {
			return attemptResult{outcome: outcomeAuth, err: fmt.Errorf("obtain token: %w", err)}
		}
		return attemptResult{
			outcome: outcomeTransient,
			err:     &TransientError{Endpoint: endpoint, Attempt: attempt, Err: fmt.Errorf("obtain token: %w", err)},
		}
	}

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.attemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
	}

	req, err := op.newRequest(attemptCtx, endpoint, token, transactionID)
	if err != nil {
		cancel()
		return attemptResult{outcome: outcomeInvalid, err: err}
	}

	resp, err := d.transport.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return attemptResult{outcome: outcomeCancelled, err: ctx.Err()}
		}
		return attemptResult{
			outcome: outcomeTransient,
			err:     &TransientError{Endpoint: endpoint, Attempt: attempt, Err: err},
		}
	}

	if isSuccess(resp.StatusCode) {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return attemptResult{outcome: outcomeSuccess, resp: resp}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		body := discardBody(resp)
		cancel()
		return attemptResult{
			outcome: outcomeAuth,
			token:   token,
			err:     fmt.Errorf("HTTP %d: %s", resp.StatusCode, body),
		}
	}

	if ctx.Err() != nil {
		discardBody(resp)
		cancel()
		return attemptResult{outcome: outcomeCancelled, err: ctx.Err()}
	}

	retry, policyErr := d.retryPolicy(ctx, resp, nil)
	if policyErr != nil {
		body := discardBody(resp)
		cancel()
		return attemptResult{
			outcome: outcomeAborted,
			err:     fmt.Errorf("retry policy on HTTP %d (%s): %w", resp.StatusCode, body, policyErr),
		}
	}
	if retry {
		body := discardBody(resp)
		cancel()
		return attemptResult{
			outcome: outcomeTransient,
			resp:    resp,
			err: &TransientError{
				Endpoint:   endpoint,
				Attempt:    attempt,
				StatusCode: resp.StatusCode,
				Err:        errors.New(body),
			},
		}
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return attemptResult{outcome: outcomeSemantic, resp: resp}
}

func (d *Dispatcher) wait(ctx context.Context, attempt int, resp *http.Response) error {
	if d.backoff == nil {
		return nil
	}
	delay := d.backoff(d.backoffMin, d.backoffMax, attempt, resp)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// discardBody reads a bounded prefix of the body for diagnostics and closes it.
func discardBody(resp *http.Response) string {
	defer resp.Body.Close() //nolint:errcheck
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*maxErrorBodySize))
	return string(data)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
