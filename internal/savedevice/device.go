// Package savedevice provides asynchronous save devices: namespaced byte
// stores with readiness gating, single operation busy tracking and
// completion notification.
package savedevice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/lucasew/easysave/internal/storage"
)

// WriterFunc serializes the payload into w. The stream belongs to the
// function until it returns.
type WriterFunc func(w io.Writer) error

// ReaderFunc consumes the payload from r.
type ReaderFunc func(r io.Reader) error

type State int

const (
	StateUninitialized State = iota
	StateAwaitingDevice
	StateReady
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingDevice:
		return "awaiting_device"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Device is an asynchronous save device.
//
// At most one operation runs at a time. A request made while another is in
// flight fails with ErrDeviceBusy; nothing is queued. Requests made while
// the device is not ready fail with ErrDeviceNotReady. IsBusy turns false
// together with the resolution of the finished Operation.
type Device interface {
	IsReady() bool
	IsBusy() bool
	State() State
	// ProviderName names the selected medium, or "" when none is selected.
	ProviderName() string

	// FileExists never changes the busy state. It reports false when the
	// device is not ready.
	FileExists(ctx context.Context, container, name string) bool

	// SaveAsync writes container/name in the background. The container is
	// created if needed. The stream is closed on every path, including a
	// writer error or panic, in which case previous content is kept.
	SaveAsync(ctx context.Context, container, name string, fn WriterFunc) (*Operation, error)

	// Load reads container/name and returns once the reader is done.
	// A missing file fails with ErrNotFound without touching busy.
	Load(ctx context.Context, container, name string, fn ReaderFunc) error
	LoadAsync(ctx context.Context, container, name string, fn ReaderFunc) (*Operation, error)

	Delete(ctx context.Context, container, name string) error
	DeleteAsync(ctx context.Context, container, name string) (*Operation, error)

	// GetFiles lists the files of a container whose names match a
	// path.Match pattern. An empty pattern matches everything.
	GetFiles(ctx context.Context, container, pattern string) ([]string, error)
	GetContainers(ctx context.Context) ([]string, error)

	// Subscribe returns a channel receiving every Completion. Delivery
	// happens on the operation goroutine after the handle resolved and
	// never blocks; a subscriber that falls behind misses events.
	Subscribe() chan Completion
	Unsubscribe(ch chan Completion)

	// Close waits for the in-flight operation and closes subscriber channels.
	Close() error
}

// base holds the state shared by both device variants.
type base struct {
	mu       sync.Mutex
	phase    State
	provider storage.Provider
	busy     bool
	closed   bool

	wg        conc.WaitGroup
	listeners *listeners[Completion]
	logger    *slog.Logger
}

func newBase(logger *slog.Logger) *base {
	if logger == nil {
		logger = slog.Default()
	}
	return &base{
		phase:     StateUninitialized,
		listeners: newListeners[Completion](),
		logger:    logger,
	}
}

func (b *base) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.phase == StateReady && b.provider != nil
}

func (b *base) IsBusy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == StateReady && b.busy {
		return StateBusy
	}
	return b.phase
}

func (b *base) ProviderName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.provider == nil {
		return ""
	}
	return b.provider.Name()
}

func (b *base) Subscribe() chan Completion { return b.listeners.Subscribe() }

func (b *base) Unsubscribe(ch chan Completion) { b.listeners.Unsubscribe(ch) }

// readyProvider returns the selected provider without claiming the device.
func (b *base) readyProvider() (storage.Provider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.phase != StateReady || b.provider == nil {
		return nil, ErrDeviceNotReady
	}
	return b.provider, nil
}

// start claims the device and runs fn on a background goroutine. The
// goroutine is registered while the lock is held so Close cannot miss it.
func (b *base) start(kind OpKind, container, name string, fn func(p storage.Provider) error) (*Operation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.closed:
		return nil, ErrClosed
	case b.phase != StateReady || b.provider == nil:
		return nil, ErrDeviceNotReady
	case b.busy:
		return nil, ErrDeviceBusy
	}

	b.busy = true
	p := b.provider
	op := newOperation(kind, container, name)
	b.wg.Go(func() {
		b.finish(op, fn(p))
	})
	return op, nil
}

// finish resolves the handle and clears busy as one step under the lock,
// then notifies subscribers. IsBusy reports false only once Result does.
func (b *base) finish(op *Operation, err error) {
	b.mu.Lock()
	c := op.complete(err)
	b.busy = false
	b.mu.Unlock()

	attrs := []any{"op_id", c.OpID, "kind", c.Kind, "container", c.Container, "file", c.File, "duration", c.Duration()}
	if err != nil {
		b.logger.Warn("operation failed", append(attrs, "code", Classify(err), "error", err)...)
	} else {
		b.logger.Debug("operation completed", attrs...)
	}

	b.listeners.Broadcast(c)
}

func (b *base) FileExists(ctx context.Context, container, name string) bool {
	if storage.ValidatePair(container, name) != nil {
		return false
	}
	p, err := b.readyProvider()
	if err != nil {
		return false
	}
	ok, err := p.FileExists(ctx, container, name)
	if err != nil {
		b.logger.Warn("existence check failed", "container", container, "file", name, "error", err)
		return false
	}
	return ok
}

// requireExisting reports ErrNotFound before the device is claimed.
func (b *base) requireExisting(ctx context.Context, container, name string) error {
	p, err := b.readyProvider()
	if err != nil {
		return err
	}
	ok, err := p.FileExists(ctx, container, name)
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", container, name, err)
	}
	if !ok {
		return fmt.Errorf("%s/%s: %w", container, name, storage.ErrNotFound)
	}
	return nil
}

func (b *base) SaveAsync(ctx context.Context, container, name string, fn WriterFunc) (*Operation, error) {
	if fn == nil {
		return nil, errors.New("nil writer func")
	}
	if err := storage.ValidatePair(container, name); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	return b.start(OpSave, container, name, func(p storage.Provider) error {
		return save(ctx, p, container, name, fn)
	})
}

func (b *base) LoadAsync(ctx context.Context, container, name string, fn ReaderFunc) (*Operation, error) {
	if fn == nil {
		return nil, errors.New("nil reader func")
	}
	if err := storage.ValidatePair(container, name); err != nil {
		return nil, err
	}
	if err := b.requireExisting(ctx, container, name); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	return b.start(OpLoad, container, name, func(p storage.Provider) error {
		return load(ctx, p, container, name, fn)
	})
}

func (b *base) Load(ctx context.Context, container, name string, fn ReaderFunc) error {
	op, err := b.LoadAsync(ctx, container, name, fn)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (b *base) DeleteAsync(ctx context.Context, container, name string) (*Operation, error) {
	if err := storage.ValidatePair(container, name); err != nil {
		return nil, err
	}
	if err := b.requireExisting(ctx, container, name); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	return b.start(OpDelete, container, name, func(p storage.Provider) error {
		return p.Delete(ctx, container, name)
	})
}

func (b *base) Delete(ctx context.Context, container, name string) error {
	op, err := b.DeleteAsync(ctx, container, name)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (b *base) GetFiles(ctx context.Context, container, pattern string) ([]string, error) {
	if err := storage.ValidateName("container", container); err != nil {
		return nil, err
	}
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	p, err := b.readyProvider()
	if err != nil {
		return nil, err
	}
	names, err := p.List(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", container, err)
	}
	if pattern == "" {
		return names, nil
	}
	matched := make([]string, 0, len(names))
	for _, n := range names {
		if ok, _ := path.Match(pattern, n); ok {
			matched = append(matched, n)
		}
	}
	return matched, nil
}

func (b *base) GetContainers(ctx context.Context) ([]string, error) {
	p, err := b.readyProvider()
	if err != nil {
		return nil, err
	}
	names, err := p.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return names, nil
}

// shutdown marks the device closed, waits for the in-flight operation and
// releases subscribers. It reports whether this call did the closing.
func (b *base) shutdown() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	b.listeners.close()
	return true
}

func save(ctx context.Context, p storage.Provider, container, name string, fn WriterFunc) error {
	w, err := p.Create(ctx, container, name)
	if err != nil {
		return fmt.Errorf("open writer for %s/%s: %w", container, name, err)
	}

	if err := runUser(func() error { return fn(w) }); err != nil {
		var abortErr error
		if a, ok := w.(storage.Aborter); ok {
			if aerr := a.Abort(); aerr != nil {
				abortErr = fmt.Errorf("abort %s/%s: %w", container, name, aerr)
			}
		}
		var closeErr error
		if cerr := w.Close(); cerr != nil {
			closeErr = fmt.Errorf("close %s/%s: %w", container, name, cerr)
		}
		return combine(fmt.Errorf("write %s/%s: %w", container, name, err), abortErr, closeErr)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s/%s: %w", container, name, err)
	}
	return nil
}

func load(ctx context.Context, p storage.Provider, container, name string, fn ReaderFunc) error {
	r, err := p.Open(ctx, container, name)
	if err != nil {
		return fmt.Errorf("open reader for %s/%s: %w", container, name, err)
	}

	var readErr, closeErr error
	if err := runUser(func() error { return fn(r) }); err != nil {
		readErr = fmt.Errorf("read %s/%s: %w", container, name, err)
	}
	if err := r.Close(); err != nil {
		closeErr = fmt.Errorf("close %s/%s: %w", container, name, err)
	}
	return combine(readErr, closeErr)
}

// runUser calls a user function and turns a panic into a *PanicError.
func runUser(fn func() error) error {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn() })
	if r := pc.Recovered(); r != nil {
		return &PanicError{Recovered: r}
	}
	return err
}
