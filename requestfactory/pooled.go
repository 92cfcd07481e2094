package requestfactory

import (
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
	"vault-test-support/config"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

var (
	_ Initializer = (*PooledFactory)(nil)
	_ io.Closer   = (*PooledFactory)(nil)
)

// PooledFactory serves requests over a go-cleanhttp pooled transport. The
// transport is usable as soon as the factory is constructed; Initialize
// reloads TLS material from disk and swaps in a fresh transport.
type PooledFactory struct {
	cfg    config.Config
	log    *zap.Logger
	tr     *swapTransport
	client *http.Client
	closed atomic.Bool
}

func newPooled(cfg config.Config, log *zap.Logger) (*PooledFactory, error) {
	tr, err := newSwapTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &PooledFactory{
		cfg: cfg,
		log: log,
		tr:  tr,
		client: &http.Client{
			Transport: tr,
			Timeout:   cfg.ReadTimeout,
		},
	}, nil
}

func (f *PooledFactory) Name() string             { return config.ClientPooled }
func (f *PooledFactory) HTTPClient() *http.Client { return f.client }

func (f *PooledFactory) Initialize() error {
	if err := f.tr.reload(f.cfg); err != nil {
		return err
	}
	f.log.Debug("pooled transport ready", zap.String("address", f.cfg.Address()))
	return nil
}

// Close drops idle connections. Calling it more than once is a no-op.
func (f *PooledFactory) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.tr.closeIdle()
	f.log.Debug("pooled transport closed")
	return nil
}

func newPooledTransport(cfg config.Config) (*http.Transport, error) {
	tlsCfg, err := newTLSConfig(cfg.SSL)
	if err != nil {
		return nil, err
	}
	tr := cleanhttp.DefaultPooledTransport()
	tr.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectionTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	tr.TLSHandshakeTimeout = cfg.ConnectionTimeout
	tr.ResponseHeaderTimeout = cfg.ReadTimeout
	tr.TLSClientConfig = tlsCfg
	return tr, nil
}

// swapTransport forwards to the current pooled transport. Requests already
// in flight keep the transport they started on.
type swapTransport struct {
	tr atomic.Pointer[http.Transport]
}

func newSwapTransport(cfg config.Config) (*swapTransport, error) {
	tr, err := newPooledTransport(cfg)
	if err != nil {
		return nil, err
	}
	s := &swapTransport{}
	s.tr.Store(tr)
	return s, nil
}

func (s *swapTransport) reload(cfg config.Config) error {
	tr, err := newPooledTransport(cfg)
	if err != nil {
		return err
	}
	s.tr.Swap(tr).CloseIdleConnections()
	return nil
}

func (s *swapTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return s.tr.Load().RoundTrip(req)
}

func (s *swapTransport) closeIdle() {
	s.tr.Load().CloseIdleConnections()
}
