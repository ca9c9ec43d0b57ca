package config

import (
	"errors"
	"fmt"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-swiftclient/objectstore"
	"github.com/bitrise-io/go-swiftclient/objectstore/segmentuploader"
	"github.com/bitrise-io/go-swiftclient/tokenauth"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// Session is a client assembled from a Config. Close releases the token
// cache.
type Session struct {
	Dispatcher *dispatch.Dispatcher
	Client     *objectstore.Client

	store *tokenauth.BadgerStore
}

// Close ...
func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Open validates cfg and wires the token authority, the dispatcher and the
// object storage client. A nil sink falls back to a logger sink.
func Open(cfg Config, logger log.Logger, sink dispatch.Sink) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewLogger()
	}
	if sink == nil {
		sink = dispatch.NewLoggerSink(logger)
	}

	segmentSize, err := cfg.SegmentSizeBytes()
	if err != nil {
		return nil, err
	}
	prefetchSize, err := cfg.PrefetchSizeBytes()
	if err != nil {
		return nil, err
	}

	session := &Session{}

	var store tokenauth.Store
	if cfg.TokenCacheDir != "" {
		badgerStore, err := tokenauth.OpenBadgerStore(cfg.TokenCacheDir)
		if err != nil {
			return nil, fmt.Errorf("open token cache: %w", err)
		}
		session.store = badgerStore
		store = badgerStore
	}

	authenticator := tokenauth.NewTempAuthenticator(cfg.Username, string(cfg.Password), logger)
	if cfg.Timeout > 0 {
		authenticator.Client.HTTPClient.Timeout = cfg.Timeout
	}

	dispatcherConfig := dispatch.Config{
		Endpoints:      cfg.Endpoints,
		Budget:         cfg.Budget(),
		Authority:      tokenauth.NewAuthority(cfg.Username, authenticator, store, logger),
		AttemptTimeout: cfg.Timeout,
		Sink:           sink,
		Logger:         logger,
	}
	if len(cfg.RetryStatuses) > 0 {
		dispatcherConfig.RetryPolicy = dispatch.RetryOnStatus(nil, cfg.RetryStatuses...)
	}
	if cfg.BackoffMax > 0 {
		dispatcherConfig.Backoff = retryablehttp.DefaultBackoff
		dispatcherConfig.BackoffMin = cfg.BackoffMin
		dispatcherConfig.BackoffMax = cfg.BackoffMax
	}

	dispatcher, err := dispatch.New(dispatcherConfig)
	if err != nil {
		return nil, errors.Join(err, session.Close())
	}

	uploaderConfig := segmentuploader.DefaultConfig()
	uploaderConfig.Concurrency = cfg.Concurrency
	uploaderConfig.Logger = logger

	client, err := objectstore.NewClient(objectstore.Config{
		Dispatcher:             dispatcher,
		Logger:                 logger,
		SegmentSize:            segmentSize,
		SegmentContainerSuffix: cfg.SegmentContainer,
		Uploader:               uploaderConfig,
		PrefetchSize:           prefetchSize,
	})
	if err != nil {
		return nil, errors.Join(err, session.Close())
	}

	session.Dispatcher = dispatcher
	session.Client = client
	return session, nil
}
