package requestfactory

import (
	"io"
	"net/http"
	"sync/atomic"
	"vault-test-support/config"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

var (
	_ Initializer = (*RetryableFactory)(nil)
	_ io.Closer   = (*RetryableFactory)(nil)
)

// RetryableFactory retries connection failures and 429/5xx responses with
// backoff. Once retries are exhausted the last response is returned as-is so
// callers still see the real status code.
type RetryableFactory struct {
	cfg    config.Config
	log    *zap.Logger
	tr     *swapTransport
	rc     *retryablehttp.Client
	client *http.Client
	closed atomic.Bool
}

func newRetryable(cfg config.Config, log *zap.Logger) (*RetryableFactory, error) {
	tr, err := newSwapTransport(cfg)
	if err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: tr,
		Timeout:   cfg.ReadTimeout,
	}
	rc.RetryMax = cfg.Retry.Max
	if cfg.Retry.WaitMin > 0 {
		rc.RetryWaitMin = cfg.Retry.WaitMin
	}
	if cfg.Retry.WaitMax > 0 {
		rc.RetryWaitMax = cfg.Retry.WaitMax
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{s: log.Sugar()}

	return &RetryableFactory{
		cfg:    cfg,
		log:    log,
		tr:     tr,
		rc:     rc,
		client: rc.StandardClient(),
	}, nil
}

func (f *RetryableFactory) Name() string             { return config.ClientRetryable }
func (f *RetryableFactory) HTTPClient() *http.Client { return f.client }

func (f *RetryableFactory) Initialize() error {
	if err := f.tr.reload(f.cfg); err != nil {
		return err
	}
	f.log.Debug("retryable transport ready",
		zap.String("address", f.cfg.Address()),
		zap.Int("retry_max", f.rc.RetryMax))
	return nil
}

func (f *RetryableFactory) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.tr.closeIdle()
	f.log.Debug("retryable transport closed")
	return nil
}

// leveledLogger routes retryablehttp logging into zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
