package dispatch

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

type roundTripper struct {
	dispatcher *Dispatcher
}

// RoundTripper exposes the Dispatcher to net/http based consumers. The scheme
// and host of incoming requests are ignored: the URL path is treated as
// endpoint-relative and resolved by the Dispatcher. Request bodies are
// buffered so they can be replayed across attempts.
func (d *Dispatcher) RoundTripper() http.RoundTripper {
	return roundTripper{dispatcher: d}
}

// HTTPClient wraps RoundTripper in an *http.Client.
func (d *Dispatcher) HTTPClient() *http.Client {
	return &http.Client{Transport: d.RoundTripper()}
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	op := Operation{
		Method: req.Method,
		Path:   req.URL.EscapedPath(),
		Query:  req.URL.Query(),
		Header: req.Header.Clone(),
	}

	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
		op.Body = bytes.NewReader(data)
		op.ContentLength = int64(len(data))
	}

	resp, err := rt.dispatcher.Dispatch(req.Context(), op)
	if err != nil {
		return nil, err
	}
	resp.Request = req

	return resp, nil
}
