// Package requestfactory builds the HTTP clients used to talk to Vault. The
// implementation is picked by the configured client kind; some kinds carry an
// initialization and teardown lifecycle that the owner must drive.
package requestfactory

import (
	"net/http"
	"vault-test-support/config"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrNilConfig = errors.New("config must not be nil")

// RequestFactory produces configured outbound HTTP connections (timeouts,
// TLS) for a client library.
type RequestFactory interface {
	Name() string
	HTTPClient() *http.Client
}

// Initializer is implemented by factories with a setup step after
// construction. The factory already serves requests before Initialize runs;
// Initialize revalidates TLS material and fails early when it is broken.
// Factories that need teardown implement io.Closer.
type Initializer interface {
	Initialize() error
}

type Option func(*options)

type options struct {
	log *zap.Logger
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Create selects and constructs a RequestFactory for cfg.ClientKind.
func Create(cfg *config.Config, opts ...Option) (RequestFactory, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	o.log.Debug("creating request factory",
		zap.String("kind", cfg.ClientKind),
		zap.String("address", cfg.Address()))

	var (
		f   RequestFactory
		err error
	)
	switch cfg.ClientKind {
	case "", config.ClientAuto, config.ClientPooled:
		f, err = newPooled(*cfg, o.log)
	case config.ClientStdlib:
		f, err = newStdlib(*cfg)
	case config.ClientRetryable:
		f, err = newRetryable(*cfg, o.log)
	default:
		return nil, errors.Errorf("unknown client kind: %q", cfg.ClientKind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create %s request factory", cfg.ClientKind)
	}
	return f, nil
}

type static struct {
	name   string
	client *http.Client
}

// FromClient wraps an already configured client, e.g. one handed out by an
// httptest.Server.
func FromClient(name string, c *http.Client) RequestFactory {
	if c == nil {
		c = &http.Client{}
	}
	return &static{name: name, client: c}
}

func (s *static) Name() string             { return s.name }
func (s *static) HTTPClient() *http.Client { return s.client }
