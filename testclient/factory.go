// Package testclient hands out HTTP helpers for integration tests against
// Vault. The request factory behind them is built once per process: changes
// to timeouts or TLS settings are not applied after the first successful
// construction.
package testclient

import (
	"io"
	"sync/atomic"
	"vault-test-support/config"
	"vault-test-support/requestfactory"
	"vault-test-support/shutdown"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNilConfig  = errors.New("config must not be nil")
	ErrNilFactory = errors.New("request factory must not be nil")
)

type cachedFactory struct {
	f requestfactory.RequestFactory
}

var (
	factoryCache atomic.Pointer[cachedFactory]
	logger       atomic.Pointer[zap.Logger]

	// hooks receives the teardown of the cached factory.
	hooks = shutdown.Default()

	createFactory = requestfactory.Create
)

// SetLogger sets the logger used by factories created from now on.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}

func log() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// New returns a Template backed by the process-wide request factory, building
// it from cfg on first use. See NewWithFactory to wrap a specific factory.
func New(cfg *config.Config) (*Template, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := initializeRequestFactory(cfg); err != nil {
		return nil, err
	}
	return NewWithFactory(CachedFactory())
}

// CachedFactory returns the installed request factory, or nil.
func CachedFactory() requestfactory.RequestFactory {
	if c := factoryCache.Load(); c != nil {
		return c.f
	}
	return nil
}

func initializeRequestFactory(cfg *config.Config) error {
	if factoryCache.Load() != nil {
		return nil
	}

	f, err := createFactory(cfg, requestfactory.WithLogger(log()))
	if err != nil {
		return err
	}

	if !factoryCache.CompareAndSwap(nil, &cachedFactory{f: f}) {
		// Another caller won; its factory is the one in use.
		log().Debug("request factory already installed; discarding", zap.String("kind", f.Name()))
		return nil
	}

	if init, ok := f.(requestfactory.Initializer); ok {
		if err := init.Initialize(); err != nil {
			return errors.Wrapf(err, "initialize %s request factory", f.Name())
		}
	}

	if c, ok := f.(io.Closer); ok {
		hooks.Register("request factory "+f.Name(), c.Close)
	}

	log().Info("request factory installed",
		zap.String("kind", f.Name()),
		zap.String("address", cfg.Address()))
	return nil
}
