// Package metrics exposes dispatcher retry events as Prometheus counters.
package metrics

import (
	"errors"
	"net/http"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swift_client"

// Sink counts retries and token refreshes per endpoint. It implements
// dispatch.Sink and dispatch.AuthRefreshSink.
type Sink struct {
	retries       *prometheus.CounterVec
	authRefreshes *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

var _ dispatch.AuthRefreshSink = (*Sink)(nil)

// NewSink creates the collectors and registers them on reg. Collectors
// already registered on reg are reused, so several clients can share one
// registry.
func NewSink(reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Transient attempt failures that were retried or exhausted the budget.",
		}, []string{"endpoint"}),
		authRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_refreshes_total",
			Help:      "Tokens rejected with 401 and refreshed.",
		}, []string{"endpoint"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_errors_total",
			Help:      "Transient attempt failures by kind.",
		}, []string{"endpoint", "kind"}),
	}

	var err error
	if s.retries, err = register(reg, s.retries); err != nil {
		return nil, err
	}
	if s.authRefreshes, err = register(reg, s.authRefreshes); err != nil {
		return nil, err
	}
	if s.errors, err = register(reg, s.errors); err != nil {
		return nil, err
	}
	return s, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// OnRetry ...
func (s *Sink) OnRetry(endpoint string, _ int, cause error) {
	s.retries.WithLabelValues(endpoint).Inc()
	s.errors.WithLabelValues(endpoint, errorKind(cause)).Inc()
}

// OnAuthRefresh ...
func (s *Sink) OnAuthRefresh(endpoint string, _ int) {
	s.authRefreshes.WithLabelValues(endpoint).Inc()
}

func errorKind(err error) string {
	var transient *dispatch.TransientError
	if errors.As(err, &transient) && transient.StatusCode != 0 {
		if transient.StatusCode >= 500 {
			return "5xx"
		}
		return "4xx"
	}
	return "transport"
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
