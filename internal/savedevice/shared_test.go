package savedevice

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/easysave/internal/storage"
	"github.com/lucasew/easysave/internal/storage/fsstore"
)

// pluggable is an in-memory medium that can be unplugged.
type pluggable struct {
	*fsstore.Store
	unplugged atomic.Bool
}

func newPluggable(name string) *pluggable {
	return &pluggable{Store: fsstore.NewMemory(name)}
}

func (p *pluggable) Available(ctx context.Context) error {
	if p.unplugged.Load() {
		return fmt.Errorf("%s: %w", p.Name(), storage.ErrUnavailable)
	}
	return p.Store.Available(ctx)
}

type recorder struct {
	events   []DeviceEvent
	response Response
}

func (r *recorder) handle(e *DeviceEvent) {
	r.events = append(r.events, *e)
	e.Response = r.response
}

func TestSharedDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	usb := newPluggable("usb")
	d := NewShared(&StaticSelector{Providers: []storage.Provider{usb}}, SharedOptions{})
	defer func() { _ = d.Close() }()

	assert.Equal(t, StateUninitialized, d.State())

	d.PromptForDevice()
	assert.Equal(t, StateAwaitingDevice, d.State())
	assert.True(t, d.PromptPending())
	assert.False(t, d.IsReady())

	d.Tick(ctx)
	assert.True(t, d.IsReady())
	assert.Equal(t, StateReady, d.State())
	assert.Equal(t, "usb", d.ProviderName())
	assert.False(t, d.PromptPending())

	op, err := d.SaveAsync(ctx, "TestContainer", "MyFile.txt", writeString("Hello, World 0!"))
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))
	assert.True(t, d.FileExists(ctx, "TestContainer", "MyFile.txt"))
}

func TestSelectorCanceled(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing leaves the device waiting", func(t *testing.T) {
		rec := &recorder{response: ResponseNothing}
		usb := newPluggable("usb")
		usb.unplugged.Store(true)
		d := NewShared(&StaticSelector{Providers: []storage.Provider{usb}}, SharedOptions{
			OnSelectorCanceled: rec.handle,
		})
		defer func() { _ = d.Close() }()

		d.PromptForDevice()
		d.Tick(ctx)

		require.Len(t, rec.events, 1)
		assert.Equal(t, EventSelectorCanceled, rec.events[0].Kind)
		assert.ErrorIs(t, rec.events[0].Err, storage.ErrSelectorCanceled)
		assert.Equal(t, StateAwaitingDevice, d.State())
		assert.False(t, d.PromptPending())

		d.Tick(ctx)
		assert.Len(t, rec.events, 1, "no prompt without a new request")
	})

	t.Run("force prompts again on the next tick", func(t *testing.T) {
		rec := &recorder{response: ResponseForce}
		usb := newPluggable("usb")
		usb.unplugged.Store(true)
		d := NewShared(&StaticSelector{Providers: []storage.Provider{usb}}, SharedOptions{
			OnSelectorCanceled: rec.handle,
		})
		defer func() { _ = d.Close() }()

		d.PromptForDevice()
		d.Tick(ctx)
		assert.Len(t, rec.events, 1)
		assert.True(t, d.PromptPending())
		assert.Equal(t, StateAwaitingDevice, d.State())

		d.Tick(ctx)
		assert.Len(t, rec.events, 2)

		usb.unplugged.Store(false)
		d.Tick(ctx)
		assert.Len(t, rec.events, 2)
		assert.True(t, d.IsReady())
	})

	t.Run("canceling a switch keeps the current medium", func(t *testing.T) {
		rec := &recorder{response: ResponseForce}
		usb := newPluggable("usb")
		calls := 0
		sel := SelectorFunc(func(context.Context) (storage.Provider, error) {
			calls++
			if calls == 1 {
				return usb, nil
			}
			return nil, storage.ErrSelectorCanceled
		})
		d := NewShared(sel, SharedOptions{OnSelectorCanceled: rec.handle})
		defer func() { _ = d.Close() }()

		d.PromptForDevice()
		d.Tick(ctx)
		require.True(t, d.IsReady())

		d.PromptForDevice()
		d.Tick(ctx)
		assert.True(t, d.IsReady())
		assert.Empty(t, rec.events)
	})
}

func TestDeviceDisconnected(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name          string
		response      Response
		wantPrompt    bool
		wantReadyNext bool
	}{
		{"force", ResponseForce, true, true},
		{"nothing", ResponseNothing, false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{response: tc.response}
			usb := newPluggable("usb")
			d := NewShared(&StaticSelector{Providers: []storage.Provider{usb}}, SharedOptions{
				OnDeviceDisconnected: rec.handle,
			})
			defer func() { _ = d.Close() }()

			d.PromptForDevice()
			d.Tick(ctx)
			require.True(t, d.IsReady())

			usb.unplugged.Store(true)
			d.Tick(ctx)

			require.Len(t, rec.events, 1)
			assert.Equal(t, EventDeviceDisconnected, rec.events[0].Kind)
			assert.Equal(t, "usb", rec.events[0].Provider)
			assert.ErrorIs(t, rec.events[0].Err, storage.ErrUnavailable)
			assert.Equal(t, StateAwaitingDevice, d.State())
			assert.Equal(t, "", d.ProviderName())
			assert.Equal(t, tc.wantPrompt, d.PromptPending())

			_, err := d.SaveAsync(ctx, "c", "f", writeString("x"))
			assert.ErrorIs(t, err, ErrDeviceNotReady)

			usb.unplugged.Store(false)
			d.Tick(ctx)
			assert.Equal(t, tc.wantReadyNext, d.IsReady())
		})
	}
}

func TestDisconnectDuringOperation(t *testing.T) {
	ctx := context.Background()
	usb := newPluggable("usb")
	d := NewShared(&StaticSelector{Providers: []storage.Provider{usb}}, SharedOptions{})
	defer func() { _ = d.Close() }()

	d.PromptForDevice()
	d.Tick(ctx)
	require.True(t, d.IsReady())

	started := make(chan struct{})
	release := make(chan struct{})
	op, err := d.SaveAsync(ctx, "c", "f", func(w io.Writer) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	usb.unplugged.Store(true)
	d.Tick(ctx)
	assert.False(t, d.IsReady())
	assert.True(t, d.IsBusy(), "busy follows the operation, not the medium")
	assert.Equal(t, StateAwaitingDevice, d.State())

	close(release)
	_ = op.Wait(ctx)
	assert.False(t, d.IsBusy())
}

func TestRunReactsToMediumRemoval(t *testing.T) {
	root := filepath.Join(t.TempDir(), "usb")
	require.NoError(t, os.MkdirAll(root, 0o755))
	usb, err := fsstore.NewLocal("usb", root, false)
	require.NoError(t, err)

	disconnected := make(chan struct{}, 1)
	d := NewShared(&StaticSelector{Providers: []storage.Provider{usb}}, SharedOptions{
		TickInterval: 10 * time.Millisecond,
		OnDeviceDisconnected: func(e *DeviceEvent) {
			disconnected <- struct{}{}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.PromptForDevice()
	require.Eventually(t, d.IsReady, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.RemoveAll(root))
	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect not detected")
	}
	assert.False(t, d.IsReady())

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, d.Close())
}

func TestStaticSelector(t *testing.T) {
	ctx := context.Background()
	a := newPluggable("a")
	b := newPluggable("b")
	sel := &StaticSelector{Providers: []storage.Provider{a, b}}

	p, err := sel.Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name())

	a.unplugged.Store(true)
	p, err = sel.Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())

	b.unplugged.Store(true)
	_, err = sel.Select(ctx)
	assert.ErrorIs(t, err, storage.ErrSelectorCanceled)

	_, err = (&StaticSelector{}).Select(ctx)
	assert.ErrorIs(t, err, storage.ErrSelectorCanceled)

	assert.NoError(t, sel.Close())
}
