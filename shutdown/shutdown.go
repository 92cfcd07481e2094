// Package shutdown keeps a process-wide list of cleanup callbacks that run
// once when the process is about to exit.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"vault-test-support/logging"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type hook struct {
	name string
	fn   func() error
}

// Registry runs its hooks at most once, newest first.
type Registry struct {
	mu    sync.Mutex
	hooks []hook
	done  bool
	log   *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log}
}

// Register adds fn. Hooks registered after Run are invoked immediately.
func (r *Registry) Register(name string, fn func() error) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	if !r.done {
		r.hooks = append(r.hooks, hook{name: name, fn: fn})
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	_ = r.call(hook{name: name, fn: fn})
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Run invokes every hook. Failures are logged and returned together; a
// panicking hook does not stop the others.
func (r *Registry) Run() error {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return nil
	}
	r.done = true
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	var result *multierror.Error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := r.call(hooks[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *Registry) call(h hook) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
		if err != nil {
			err = errors.Wrapf(err, "shutdown hook %q", h.name)
			r.logger().Error("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
		}
	}()
	return h.fn()
}

func (r *Registry) logger() *zap.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log
}

// RunOnSignal blocks until SIGINT, SIGTERM or ctx cancellation, then runs the
// hooks.
func (r *Registry) RunOnSignal(ctx context.Context) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sctx.Done()
	return r.Run()
}

var defaultRegistry = NewRegistry(logging.New(false).Named("shutdown"))

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// SetLogger replaces the logger of the process-wide registry.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	r := Default()
	r.mu.Lock()
	r.log = l.Named("shutdown")
	r.mu.Unlock()
}

func Register(name string, fn func() error) { Default().Register(name, fn) }

func Run() error { return Default().Run() }

func RunOnSignal(ctx context.Context) error { return Default().RunOnSignal(ctx) }
