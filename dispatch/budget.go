package dispatch

import (
	"errors"
	"fmt"
	"net/url"
)

// Credentials identify a user against an ordered, non-empty set of
// redundant front-end endpoints. A Credentials value is not modified after
// the client is configured.
type Credentials struct {
	Username  string
	Password  string
	Endpoints []string
}

// Validate ...
func (c Credentials) Validate() error {
	if c.Username == "" {
		return errors.New("username must not be empty")
	}
	return validateEndpoints(c.Endpoints)
}

// RetryBudget bounds the attempts of a single dispatch.
//
// TotalAttempts is the global cap across all endpoints, PerEndpointAttempts is
// the number of transient failures tolerated on one endpoint before rotating to
// the next one. TotalAttempts may be lower than
// PerEndpointAttempts * len(endpoints), in which case rotation never completes
// a full cycle.
type RetryBudget struct {
	TotalAttempts       int
	PerEndpointAttempts int
}

// DefaultRetryBudget ...
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{
		TotalAttempts:       6,
		PerEndpointAttempts: 2,
	}
}

// Validate ...
func (b RetryBudget) Validate() error {
	if b.TotalAttempts < 1 {
		return fmt.Errorf("total attempts must be at least 1, got %d", b.TotalAttempts)
	}
	if b.PerEndpointAttempts < 1 {
		return fmt.Errorf("per endpoint attempts must be at least 1, got %d", b.PerEndpointAttempts)
	}
	return nil
}

func validateEndpoints(endpoints []string) error {
	if len(endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for _, endpoint := range endpoints {
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid endpoint %q: missing host", endpoint)
		}
	}
	return nil
}
