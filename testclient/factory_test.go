package testclient

import (
	"context"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"vault-test-support/config"
	"vault-test-support/requestfactory"
	"vault-test-support/shutdown"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	code := m.Run()
	_ = shutdown.Run()
	os.Exit(code)
}

// fakeFactory records lifecycle calls.
type fakeFactory struct {
	client      *http.Client
	initErr     error
	initialized atomic.Int32
	closed      atomic.Int32
}

func (f *fakeFactory) Name() string             { return "fake" }
func (f *fakeFactory) HTTPClient() *http.Client { return f.client }
func (f *fakeFactory) Initialize() error {
	f.initialized.Add(1)
	return f.initErr
}
func (f *fakeFactory) Close() error {
	f.closed.Add(1)
	return nil
}

// resetCache empties the process-wide slot and isolates shutdown hooks.
func resetCache(t *testing.T) *shutdown.Registry {
	t.Helper()
	factoryCache.Store(nil)
	reg := shutdown.NewRegistry(nil)
	prevHooks, prevCreate := hooks, createFactory
	hooks = reg
	t.Cleanup(func() {
		_ = reg.Run()
		factoryCache.Store(nil)
		hooks, createFactory = prevHooks, prevCreate
	})
	return reg
}

func stubCreate(t *testing.T, fn func() (requestfactory.RequestFactory, error)) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	createFactory = func(*config.Config, ...requestfactory.Option) (requestfactory.RequestFactory, error) {
		calls.Add(1)
		return fn()
	}
	return &calls
}

func localConfig() *config.Config {
	cfg := config.Default()
	cfg.Scheme = "http"
	cfg.Host = "127.0.0.1"
	return &cfg
}

func serverConfig(t *testing.T, url, kind string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = url
	cfg.ClientKind = kind
	cfg.Retry.WaitMin = time.Millisecond
	cfg.Retry.WaitMax = 5 * time.Millisecond
	require.NoError(t, cfg.ApplyAddr())
	return &cfg
}

// slowInit delays Initialize of a real factory so that other callers of New
// return while the winner is still initializing.
type slowInit struct {
	requestfactory.RequestFactory
	delay time.Duration
}

func (s *slowInit) Initialize() error {
	time.Sleep(s.delay)
	return s.RequestFactory.(requestfactory.Initializer).Initialize()
}

func TestNewRejectsNilConfig(t *testing.T) {
	resetCache(t)
	calls := stubCreate(t, func() (requestfactory.RequestFactory, error) {
		return &fakeFactory{client: &http.Client{}}, nil
	})

	tmpl, err := New(nil)
	assert.Nil(t, tmpl)
	assert.ErrorIs(t, err, ErrNilConfig)
	assert.Zero(t, calls.Load())
	assert.Nil(t, CachedFactory())

	_, err = NewVaultClient(nil)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestNewWithFactoryRejectsNil(t *testing.T) {
	tmpl, err := NewWithFactory(nil)
	assert.Nil(t, tmpl)
	assert.ErrorIs(t, err, ErrNilFactory)
}

func TestNewCachesFactory(t *testing.T) {
	resetCache(t)

	first, err := New(localConfig())
	require.NoError(t, err)

	other := localConfig()
	other.ClientKind = config.ClientStdlib
	second, err := New(other)
	require.NoError(t, err)

	require.NotNil(t, CachedFactory())
	assert.Same(t, CachedFactory(), first.RequestFactory())
	assert.Same(t, first.RequestFactory(), second.RequestFactory())
	assert.Equal(t, config.ClientPooled, CachedFactory().Name())
}

func TestNewInitializesAndRegistersTeardown(t *testing.T) {
	reg := resetCache(t)
	fake := &fakeFactory{client: &http.Client{}}
	stubCreate(t, func() (requestfactory.RequestFactory, error) { return fake, nil })

	_, err := New(localConfig())
	require.NoError(t, err)
	_, err = New(localConfig())
	require.NoError(t, err)

	assert.EqualValues(t, 1, fake.initialized.Load())
	assert.Equal(t, 1, reg.Len())
	assert.Zero(t, fake.closed.Load())

	require.NoError(t, reg.Run())
	assert.EqualValues(t, 1, fake.closed.Load())
}

func TestNewWithoutLifecycleRegistersNothing(t *testing.T) {
	reg := resetCache(t)
	stubCreate(t, func() (requestfactory.RequestFactory, error) {
		return requestfactory.FromClient("plain", &http.Client{}), nil
	})

	_, err := New(localConfig())
	require.NoError(t, err)
	assert.Zero(t, reg.Len())
}

func TestConcurrentInitInstallsOnce(t *testing.T) {
	reg := resetCache(t)

	var built []*fakeFactory
	var mu sync.Mutex
	stubCreate(t, func() (requestfactory.RequestFactory, error) {
		f := &fakeFactory{client: &http.Client{}}
		mu.Lock()
		built = append(built, f)
		mu.Unlock()
		return f, nil
	})

	const n = 32
	start := make(chan struct{})
	got := make([]requestfactory.RequestFactory, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			<-start
			tmpl, err := New(localConfig())
			if assert.NoError(t, err) {
				got[i] = tmpl.RequestFactory()
			}
		})
	}
	close(start)
	wg.Wait()

	installed := CachedFactory()
	require.NotNil(t, installed)
	for _, f := range got {
		assert.Same(t, installed, f)
	}

	var initialized int32
	for _, f := range built {
		initialized += f.initialized.Load()
	}
	assert.EqualValues(t, 1, initialized)
	assert.Equal(t, 1, reg.Len())
}

func TestCreateErrorPropagates(t *testing.T) {
	resetCache(t)
	boom := errors.New("no client library")
	stubCreate(t, func() (requestfactory.RequestFactory, error) { return nil, boom })

	_, err := New(localConfig())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, CachedFactory())
}

func TestInitializeErrorPropagates(t *testing.T) {
	reg := resetCache(t)
	boom := errors.New("bad keystore")
	fake := &fakeFactory{client: &http.Client{}, initErr: boom}
	stubCreate(t, func() (requestfactory.RequestFactory, error) { return fake, nil })

	_, err := New(localConfig())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, reg.Len())

	// The failed factory stays installed; it is not rebuilt.
	assert.Same(t, fake, CachedFactory())
	_, err = New(localConfig())
	assert.NoError(t, err)
	assert.EqualValues(t, 1, fake.initialized.Load())
}

func TestNewTemplateRaisesOnErrorStatus(t *testing.T) {
	srv := vaultLike(t)
	ctx := context.Background()

	for _, kind := range []string{config.ClientStdlib, config.ClientPooled, config.ClientRetryable} {
		t.Run(kind, func(t *testing.T) {
			resetCache(t)

			tmpl, err := New(serverConfig(t, srv.URL, kind))
			require.NoError(t, err)
			require.Equal(t, kind, tmpl.RequestFactory().Name())
			tmpl.SetBaseURL(srv.URL)

			var out map[string]any
			require.NoError(t, tmpl.SetVaultToken("root").GetForObject(ctx, "/v1/secret/data/app", &out))
			assert.Contains(t, out, "data")

			_, err = tmpl.GetForEntity(ctx, "/plain")
			se, ok := AsStatusError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, http.StatusNotFound, se.StatusCode)
			assert.True(t, se.IsClientError())

			_, err = tmpl.GetForEntity(ctx, "/v1/sys/broken")
			se, ok = AsStatusError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
			assert.True(t, se.IsServerError())
		})
	}
}

func TestConcurrentNewServesRequests(t *testing.T) {
	srv := vaultLike(t)
	ctx := context.Background()

	for _, kind := range []string{config.ClientPooled, config.ClientRetryable} {
		t.Run(kind, func(t *testing.T) {
			resetCache(t)
			createFactory = func(cfg *config.Config, opts ...requestfactory.Option) (requestfactory.RequestFactory, error) {
				f, err := requestfactory.Create(cfg, opts...)
				if err != nil {
					return nil, err
				}
				return &slowInit{RequestFactory: f, delay: 50 * time.Millisecond}, nil
			}

			cfg := serverConfig(t, srv.URL, kind)
			const n = 16
			start := make(chan struct{})
			var wg sync.WaitGroup
			for range n {
				wg.Go(func() {
					<-start
					tmpl, err := New(cfg)
					if !assert.NoError(t, err) {
						return
					}
					tmpl.SetBaseURL(srv.URL).SetVaultToken("root")
					resp, err := tmpl.GetForEntity(ctx, "/v1/secret/data/app")
					if assert.NoError(t, err) {
						assert.Equal(t, http.StatusOK, resp.StatusCode())
					}
				})
			}
			close(start)
			wg.Wait()
		})
	}
}
