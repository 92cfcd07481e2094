package requestfactory

import (
	"net"
	"net/http"
	"time"
	"vault-test-support/config"
)

// stdlibFactory is a plain net/http client. It has no lifecycle.
type stdlibFactory struct {
	client *http.Client
}

func newStdlib(cfg config.Config) (*stdlibFactory, error) {
	tlsCfg, err := newTLSConfig(cfg.SSL)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectionTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectionTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       60 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		TLSClientConfig:       tlsCfg,
	}
	return &stdlibFactory{
		client: &http.Client{
			Transport: tr,
			Timeout:   cfg.ReadTimeout,
		},
	}, nil
}

func (f *stdlibFactory) Name() string             { return config.ClientStdlib }
func (f *stdlibFactory) HTTPClient() *http.Client { return f.client }
