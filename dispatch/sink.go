package dispatch

import (
	"github.com/bitrise-io/go-utils/v2/log"
)

// Sink receives retry events. It is a side channel only: implementations must
// not block, and whatever they do has no effect on the dispatch.
type Sink interface {
	OnRetry(endpoint string, attempt int, cause error)
}

// AuthRefreshSink is optionally implemented by a Sink that also wants to know
// about tokens rejected with 401.
type AuthRefreshSink interface {
	OnAuthRefresh(endpoint string, attempt int)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(endpoint string, attempt int, cause error)

// OnRetry ...
func (f SinkFunc) OnRetry(endpoint string, attempt int, cause error) {
	f(endpoint, attempt, cause)
}

// NopSink discards every event.
var NopSink Sink = SinkFunc(func(string, int, error) {})

type loggerSink struct {
	logger log.Logger
}

// NewLoggerSink reports retries as warnings and token refreshes as debug
// messages on the given logger.
func NewLoggerSink(logger log.Logger) Sink {
	return loggerSink{logger: logger}
}

func (s loggerSink) OnRetry(endpoint string, attempt int, cause error) {
	s.logger.Warnf("Attempt %d on %s failed: %s", attempt, endpoint, cause)
}

func (s loggerSink) OnAuthRefresh(endpoint string, attempt int) {
	s.logger.Debugf("Token rejected by %s on attempt %d, refreshing", endpoint, attempt)
}

type multiSink []Sink

// MultiSink fans events out to every sink in order.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) OnRetry(endpoint string, attempt int, cause error) {
	for _, s := range m {
		notifyRetry(s, endpoint, attempt, cause)
	}
}

func (m multiSink) OnAuthRefresh(endpoint string, attempt int) {
	for _, s := range m {
		notifyAuthRefresh(s, endpoint, attempt)
	}
}

func notifyRetry(s Sink, endpoint string, attempt int, cause error) {
	defer func() { _ = recover() }()
	s.OnRetry(endpoint, attempt, cause)
}

func notifyAuthRefresh(s Sink, endpoint string, attempt int) {
	defer func() { _ = recover() }()
	if a, ok := s.(AuthRefreshSink); ok {
		a.OnAuthRefresh(endpoint, attempt)
	}
}
