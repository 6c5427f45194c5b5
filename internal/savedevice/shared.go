package savedevice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/lucasew/easysave/internal/storage"
)

const DefaultTickInterval = 250 * time.Millisecond

type SharedOptions struct {
	// TickInterval is how often Run services prompts and polls availability.
	TickInterval time.Duration

	// OnSelectorCanceled runs when a prompt ends without a medium while the
	// device has none selected.
	OnSelectorCanceled EventHandler

	// OnDeviceDisconnected runs when the selected medium goes away.
	OnDeviceDisconnected EventHandler

	Logger *slog.Logger
}

// SharedDevice saves to a medium the user picks through a Selector, such as
// a removable drive or a shared directory. It starts uninitialized; call
// PromptForDevice and drive it with Run or Tick.
type SharedDevice struct {
	*base

	selector Selector
	opts     SharedOptions

	promptCh    chan struct{}
	changes     <-chan struct{}
	stopWatchFn context.CancelFunc
}

var _ Device = (*SharedDevice)(nil)

func NewShared(selector Selector, opts SharedOptions) *SharedDevice {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &SharedDevice{
		base:     newBase(opts.Logger),
		selector: selector,
		opts:     opts,
		promptCh: make(chan struct{}, 1),
	}
}

// PromptForDevice asks for a device selection on the next tick. Repeated
// calls before that tick collapse into one prompt.
func (d *SharedDevice) PromptForDevice() {
	d.mu.Lock()
	if d.phase == StateUninitialized {
		d.phase = StateAwaitingDevice
	}
	d.mu.Unlock()

	select {
	case d.promptCh <- struct{}{}:
	default:
	}
}

// PromptPending reports whether a prompt is scheduled for the next tick.
func (d *SharedDevice) PromptPending() bool {
	return len(d.promptCh) > 0
}

// Run ticks until ctx is done. Availability is also checked as soon as the
// selected medium reports a change.
func (d *SharedDevice) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	for {
		d.mu.Lock()
		changes := d.changes
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				d.mu.Lock()
				if d.changes == changes {
					d.changes = nil
				}
				d.mu.Unlock()
				continue
			}
			d.checkAvailability(ctx)
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick performs a pending prompt, then checks that the selected medium is
// still there.
func (d *SharedDevice) Tick(ctx context.Context) {
	select {
	case <-d.promptCh:
		d.prompt(ctx)
	default:
	}
	d.checkAvailability(ctx)
}

func (d *SharedDevice) prompt(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.phase != StateReady {
		d.phase = StateAwaitingDevice
	}
	d.mu.Unlock()

	p, err := d.selector.Select(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if d.IsReady() {
			d.logger.Info("device selection canceled, keeping current medium", "provider", d.ProviderName(), "error", err)
			return
		}
		if !errors.Is(err, storage.ErrSelectorCanceled) {
			d.logger.Warn("device selection failed", "error", err)
		}
		d.raise(&DeviceEvent{Kind: EventSelectorCanceled, Err: err}, d.opts.OnSelectorCanceled)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.provider = p
	d.phase = StateReady
	d.mu.Unlock()

	d.logger.Info("save device selected", "provider", p.Name())
	d.watch(p)
}

func (d *SharedDevice) checkAvailability(ctx context.Context) {
	d.mu.Lock()
	p := d.provider
	ready := d.phase == StateReady && !d.closed
	d.mu.Unlock()
	if !ready || p == nil {
		return
	}

	err := p.Available(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	d.mu.Lock()
	if d.provider != p {
		d.mu.Unlock()
		return
	}
	d.provider = nil
	d.phase = StateAwaitingDevice
	d.mu.Unlock()
	d.stopWatch()

	d.logger.Warn("save device disconnected", "provider", p.Name(), "error", err)
	d.raise(&DeviceEvent{Kind: EventDeviceDisconnected, Provider: p.Name(), Err: err}, d.opts.OnDeviceDisconnected)
}

func (d *SharedDevice) raise(e *DeviceEvent, handler EventHandler) {
	if handler != nil {
		handler(e)
	}
	d.logger.Debug("device event handled", "event", e.Kind, "response", e.Response)
	if e.Response == ResponseForce {
		d.PromptForDevice()
	}
}

func (d *SharedDevice) watch(p storage.Provider) {
	d.stopWatch()

	w, ok := p.(storage.Watcher)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	changes, err := w.Watch(ctx)
	if err != nil {
		cancel()
		d.logger.Warn("cannot watch medium, relying on polling", "provider", p.Name(), "error", err)
		return
	}

	d.mu.Lock()
	d.changes = changes
	d.stopWatchFn = cancel
	d.mu.Unlock()
}

func (d *SharedDevice) stopWatch() {
	d.mu.Lock()
	cancel := d.stopWatchFn
	d.stopWatchFn = nil
	d.changes = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close waits for the in-flight operation, stops watching the medium and
// closes the selector when it owns the media, or the selected medium
// otherwise.
func (d *SharedDevice) Close() error {
	p := d.currentProvider()
	if !d.shutdown() {
		return nil
	}
	d.stopWatch()

	if c, ok := d.selector.(io.Closer); ok {
		return c.Close()
	}
	if p != nil {
		return p.Close()
	}
	return nil
}

func (d *SharedDevice) currentProvider() storage.Provider {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.provider
}
