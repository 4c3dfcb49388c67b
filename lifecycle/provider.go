// lifecycle/provider.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotInitialized is returned (or panicked with) when a provider's
// instance is requested before Init completed.
var ErrNotInitialized = errors.New("provider not initialized")

// ErrRegistering is returned when a name is registered again while its
// first registration is still running Init.
var ErrRegistering = errors.New("provider registration in progress")

// Provider is a named external resource with an explicit lifecycle.
// Instance panics with ErrNotInitialized before Init has succeeded.
type Provider interface {
	Name() string
	Init(ctx context.Context) error
	Destroy(ctx context.Context) error
	Instance() any
}

// ProviderConfig describes a resource to Define. Setup produces the
// instance; Teardown, if set, releases it.
type ProviderConfig[T any] struct {
	Name     string
	Setup    func(ctx context.Context) (T, error)
	Teardown func(ctx context.Context, instance T) error
}

// Definition is a typed Provider built by Define.
type Definition[T any] struct {
	cfg ProviderConfig[T]

	mu    sync.RWMutex
	inst  T
	ready bool
}

// Define turns cfg into a Provider.
func Define[T any](cfg ProviderConfig[T]) *Definition[T] {
	return &Definition[T]{cfg: cfg}
}

func (d *Definition[T]) Name() string { return d.cfg.Name }

// Init runs Setup. The instance becomes visible only after Setup returns
// without error.
func (d *Definition[T]) Init(ctx context.Context) error {
	if d.cfg.Setup == nil {
		return fmt.Errorf("provider %q: no setup function", d.cfg.Name)
	}
	inst, err := d.cfg.Setup(ctx)
	if err != nil {
		return fmt.Errorf("provider %q setup: %w", d.cfg.Name, err)
	}
	d.mu.Lock()
	d.inst, d.ready = inst, true
	d.mu.Unlock()
	return nil
}

// Destroy runs Teardown on a live instance and forgets it. Destroying an
// uninitialized provider is a no-op.
func (d *Definition[T]) Destroy(ctx context.Context) error {
	d.mu.Lock()
	inst, ready := d.inst, d.ready
	var zero T
	d.inst, d.ready = zero, false
	d.mu.Unlock()

	if !ready || d.cfg.Teardown == nil {
		return nil
	}
	if err := d.cfg.Teardown(ctx, inst); err != nil {
		return fmt.Errorf("provider %q teardown: %w", d.cfg.Name, err)
	}
	return nil
}

// Get returns the live instance or ErrNotInitialized.
func (d *Definition[T]) Get() (T, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.ready {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotInitialized, d.cfg.Name)
	}
	return d.inst, nil
}

// MustGet returns the live instance and panics if there is none.
func (d *Definition[T]) MustGet() T {
	v, err := d.Get()
	if err != nil {
		panic(err)
	}
	return v
}

func (d *Definition[T]) Instance() any { return d.MustGet() }
