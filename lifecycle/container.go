// lifecycle/container.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Container owns registered providers. Only the container destroys them;
// callers get instances through Get.
type Container struct {
	mu      sync.Mutex
	order   []Provider
	byName  map[string]Provider
	pending map[string]struct{}
	logger  *zap.Logger
}

// NewContainer returns an empty Container.
func NewContainer(logger *zap.Logger) *Container {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{
		byName:  make(map[string]Provider),
		pending: make(map[string]struct{}),
		logger:  logger,
	}
}

// Register initializes p and records it for teardown. Registering a name
// twice logs a warning and returns the existing instance without calling
// Init again. A failed Init leaves nothing registered.
//
// Init runs without the container lock held, so a provider's setup may
// read earlier providers through Get.
func (c *Container) Register(ctx context.Context, p Provider) (any, error) {
	name := p.Name()

	c.mu.Lock()
	if existing, ok := c.byName[name]; ok {
		c.mu.Unlock()
		c.logger.Warn("provider already registered", zap.String("provider", name))
		return existing.Instance(), nil
	}
	if _, busy := c.pending[name]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("provider %q: %w", name, ErrRegistering)
	}
	c.pending[name] = struct{}{}
	c.mu.Unlock()

	c.logger.Info("registering provider", zap.String("provider", name))
	err := p.Init(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, name)
	if err != nil {
		return nil, err
	}
	c.order = append(c.order, p)
	c.byName[name] = p
	return p.Instance(), nil
}

// RegisterAs registers d and returns its typed instance.
func RegisterAs[T any](ctx context.Context, c *Container, d *Definition[T]) (T, error) {
	if _, err := c.Register(ctx, d); err != nil {
		var zero T
		return zero, err
	}
	c.mu.Lock()
	p := c.byName[d.Name()]
	c.mu.Unlock()
	if typed, ok := p.(*Definition[T]); ok {
		return typed.Get()
	}
	v, ok := p.Instance().(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("provider %q holds %T", d.Name(), p.Instance())
	}
	return v, nil
}

// Get returns the instance registered under name.
func (c *Container) Get(name string) (any, bool) {
	c.mu.Lock()
	p, ok := c.byName[name]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return p.Instance(), true
}

// Names lists registered providers in registration order.
func (c *Container) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	for i, p := range c.order {
		out[i] = p.Name()
	}
	return out
}

// DestroyAll destroys providers in reverse registration order. A failing
// or panicking provider is logged and the rest are still destroyed. The
// container is empty afterwards. The returned error joins every failure.
func (c *Container) DestroyAll(ctx context.Context) error {
	c.mu.Lock()
	providers := c.order
	c.order = nil
	c.byName = make(map[string]Provider)
	c.mu.Unlock()

	c.logger.Info("disconnecting providers", zap.Int("count", len(providers)))
	var errs []error
	for i := len(providers) - 1; i >= 0; i-- {
		p := providers[i]
		if err := destroy(ctx, p); err != nil {
			c.logger.Error("provider teardown failed", zap.String("provider", p.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		c.logger.Info("provider disconnected", zap.String("provider", p.Name()))
	}
	return errors.Join(errs...)
}

func destroy(ctx context.Context, p Provider) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider %q panicked: %v", p.Name(), rec)
		}
	}()
	return p.Destroy(ctx)
}
