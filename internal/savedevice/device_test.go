package savedevice

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/easysave/internal/storage"
	"github.com/lucasew/easysave/internal/storage/fsstore"
)

func newMemoryDevice(t *testing.T) *IsolatedDevice {
	t.Helper()
	d, err := NewIsolated(fsstore.NewMemory("memory"), "test-title", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// readyDevice builds a device over p without namespacing it.
func readyDevice(p storage.Provider) *IsolatedDevice {
	b := newBase(nil)
	b.provider = p
	b.phase = StateReady
	return &IsolatedDevice{base: b, root: p}
}

func writeString(s string) WriterFunc {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func readAll(dst *string) ReaderFunc {
	return func(r io.Reader) error {
		data, err := io.ReadAll(r)
		*dst = string(data)
		return err
	}
}

func TestSaveThenLoadScenario(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	require.True(t, d.IsReady())
	assert.False(t, d.FileExists(ctx, "TestContainer", "MyFile.txt"))

	op, err := d.SaveAsync(ctx, "TestContainer", "MyFile.txt", writeString("Hello, World 0!"))
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))

	c, ok := op.Result()
	require.True(t, ok)
	assert.NoError(t, c.Err)
	assert.Equal(t, OpSave, c.Kind)
	assert.Equal(t, "TestContainer", c.Container)
	assert.Equal(t, "MyFile.txt", c.File)
	assert.Equal(t, CodeOK, c.Code())

	assert.True(t, d.FileExists(ctx, "TestContainer", "MyFile.txt"))

	var line string
	err = d.Load(ctx, "TestContainer", "MyFile.txt", func(r io.Reader) error {
		s := bufio.NewScanner(r)
		if s.Scan() {
			line = s.Text()
		}
		return s.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World 0!", line)
	assert.False(t, d.IsBusy())
}

func TestRoundTripIsByteForByte(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	payload := []byte{0x00, 0xff, '\n', 'a', 0x7f, '\r', 0x10}
	op, err := d.SaveAsync(ctx, "bin", "blob", func(w io.Writer) error {
		_, err := w.Write(payload)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))

	var got []byte
	require.NoError(t, d.Load(ctx, "bin", "blob", func(r io.Reader) error {
		var err error
		got, err = io.ReadAll(r)
		return err
	}))
	assert.Equal(t, payload, got)
}

func TestLoadMissingFile(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	called := false
	err := d.Load(ctx, "TestContainer", "MyFile.txt", func(r io.Reader) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, CodeNotFound, Classify(err))
	assert.False(t, called)
	assert.False(t, d.IsBusy())
	assert.Equal(t, StateReady, d.State())
}

func TestBusyTracksOperation(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	var busyInside bool
	var stateInside State
	op, err := d.SaveAsync(ctx, "c", "f", func(w io.Writer) error {
		busyInside = d.IsBusy()
		stateInside = d.State()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))

	assert.True(t, busyInside)
	assert.Equal(t, StateBusy, stateInside)
	assert.False(t, d.IsBusy())
	assert.Equal(t, StateReady, d.State())
}

func TestIdleDeviceHasResolvedOperation(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	for i := 0; i < 200; i++ {
		op, err := d.SaveAsync(ctx, "c", "f", writeString("x"))
		require.NoError(t, err)
		for d.IsBusy() {
			runtime.Gosched()
		}
		_, done := op.Result()
		require.True(t, done, "device idle before operation %d resolved", i)
	}
}

func TestSecondOperationWhileBusyIsRejected(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	op, err := d.SaveAsync(ctx, "c", "existing", writeString("x"))
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	first, err := d.SaveAsync(ctx, "c", "f", func(w io.Writer) error {
		close(started)
		<-release
		_, err := io.WriteString(w, "first")
		return err
	})
	require.NoError(t, err)
	<-started

	testCases := []struct {
		name string
		run  func() error
	}{
		{"save", func() error {
			_, err := d.SaveAsync(ctx, "c", "f", writeString("second"))
			return err
		}},
		{"load", func() error {
			return d.Load(ctx, "c", "existing", func(io.Reader) error { return nil })
		}},
		{"delete", func() error {
			_, err := d.DeleteAsync(ctx, "c", "existing")
			return err
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			assert.ErrorIs(t, err, ErrDeviceBusy)
			assert.Equal(t, CodeBusy, Classify(err))
			assert.True(t, d.IsBusy())
		})
	}

	close(release)
	require.NoError(t, first.Wait(ctx))
	assert.False(t, d.IsBusy())

	var got string
	require.NoError(t, d.Load(ctx, "c", "f", readAll(&got)))
	assert.Equal(t, "first", got)
}

func TestWriterErrorKeepsPreviousContent(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	op, err := d.SaveAsync(ctx, "c", "f", writeString("old"))
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))

	boom := errors.New("boom")
	op, err = d.SaveAsync(ctx, "c", "f", func(w io.Writer) error {
		_, _ = io.WriteString(w, "half")
		return boom
	})
	require.NoError(t, err)
	err = op.Wait(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, CodeIO, Classify(err))
	assert.False(t, d.IsBusy())

	var got string
	require.NoError(t, d.Load(ctx, "c", "f", readAll(&got)))
	assert.Equal(t, "old", got)
}

func TestUserPanicsBecomeErrors(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	op, err := d.SaveAsync(ctx, "c", "f", func(w io.Writer) error {
		panic("writer exploded")
	})
	require.NoError(t, err)
	err = op.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, CodePanic, Classify(err))
	assert.Contains(t, err.Error(), "writer exploded")
	assert.False(t, d.FileExists(ctx, "c", "f"))

	op, err = d.SaveAsync(ctx, "c", "f", writeString("ok"))
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))

	err = d.Load(ctx, "c", "f", func(r io.Reader) error {
		panic(fmt.Errorf("reader exploded"))
	})
	assert.Equal(t, CodePanic, Classify(err))
	assert.False(t, d.IsBusy())
}

func TestCompletionIsBroadcast(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	a := d.Subscribe()
	b := d.Subscribe()
	defer d.Unsubscribe(b)

	op, err := d.SaveAsync(ctx, "c", "f", writeString("x"))
	require.NoError(t, err)

	for _, ch := range []chan Completion{a, b} {
		select {
		case c := <-ch:
			assert.Equal(t, op.ID(), c.OpID)
			assert.Equal(t, OpSave, c.Kind)
			assert.NoError(t, c.Err)
			assert.False(t, c.FinishedAt.Before(c.StartedAt))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for completion")
		}
	}

	d.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)

	// Exactly one completion per operation.
	select {
	case c := <-b:
		t.Fatalf("unexpected extra completion %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotReadyDevice(t *testing.T) {
	ctx := context.Background()
	d := NewShared(SelectorFunc(func(context.Context) (storage.Provider, error) {
		return nil, storage.ErrSelectorCanceled
	}), SharedOptions{})
	defer func() { _ = d.Close() }()

	assert.Equal(t, StateUninitialized, d.State())
	assert.False(t, d.IsReady())
	assert.False(t, d.FileExists(ctx, "c", "f"))

	_, err := d.SaveAsync(ctx, "c", "f", writeString("x"))
	assert.ErrorIs(t, err, ErrDeviceNotReady)
	err = d.Load(ctx, "c", "f", func(io.Reader) error { return nil })
	assert.ErrorIs(t, err, ErrDeviceNotReady)
	_, err = d.GetFiles(ctx, "c", "")
	assert.ErrorIs(t, err, ErrDeviceNotReady)
	assert.False(t, d.IsBusy())
}

func TestInvalidNames(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	testCases := []struct {
		name      string
		container string
		file      string
	}{
		{"empty container", "", "f"},
		{"empty file", "c", ""},
		{"traversal", "..", "f"},
		{"separator", "c", "a/b"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.SaveAsync(ctx, tc.container, tc.file, writeString("x"))
			assert.ErrorIs(t, err, ErrInvalidName)
			assert.False(t, d.FileExists(ctx, tc.container, tc.file))
			assert.False(t, d.IsBusy())
		})
	}
}

func TestGetFilesAndContainers(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	for _, name := range []string{"slot1.sav", "slot2.sav", "options.cfg"} {
		op, err := d.SaveAsync(ctx, "TestContainer", name, writeString(name))
		require.NoError(t, err)
		require.NoError(t, op.Wait(ctx))
	}

	all, err := d.GetFiles(ctx, "TestContainer", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"options.cfg", "slot1.sav", "slot2.sav"}, all)

	saves, err := d.GetFiles(ctx, "TestContainer", "*.sav")
	require.NoError(t, err)
	assert.Equal(t, []string{"slot1.sav", "slot2.sav"}, saves)

	_, err = d.GetFiles(ctx, "TestContainer", "[")
	assert.Error(t, err)

	containers, err := d.GetContainers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TestContainer"}, containers)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDevice(t)

	assert.ErrorIs(t, d.Delete(ctx, "c", "f"), ErrNotFound)

	op, err := d.SaveAsync(ctx, "c", "f", writeString("x"))
	require.NoError(t, err)
	require.NoError(t, op.Wait(ctx))

	require.NoError(t, d.Delete(ctx, "c", "f"))
	assert.False(t, d.FileExists(ctx, "c", "f"))
}

func TestCloseWaitsForInFlightOperation(t *testing.T) {
	ctx := context.Background()
	d, err := NewIsolated(fsstore.NewMemory("memory"), "title", nil)
	require.NoError(t, err)

	sub := d.Subscribe()
	release := make(chan struct{})
	op, err := d.SaveAsync(ctx, "c", "f", func(w io.Writer) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while an operation was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.NoError(t, op.Wait(ctx))
	c, open := <-sub
	assert.True(t, open, "the final completion is delivered before subscribers are closed")
	assert.Equal(t, op.ID(), c.OpID)
	_, open = <-sub
	assert.False(t, open)

	_, err = d.SaveAsync(ctx, "c", "f", writeString("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close())
}

func TestLoadWaitHonoursContext(t *testing.T) {
	d := newMemoryDevice(t)
	bg := context.Background()

	op, err := d.SaveAsync(bg, "c", "f", writeString("x"))
	require.NoError(t, err)
	require.NoError(t, op.Wait(bg))

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(bg)
	op, err = d.LoadAsync(ctx, "c", "f", func(io.Reader) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	cancel()

	assert.ErrorIs(t, op.Wait(ctx), context.Canceled)
	assert.True(t, d.IsBusy(), "in-flight operations are not canceled")

	close(release)
	require.NoError(t, op.Wait(bg))
	assert.False(t, d.IsBusy())
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Available(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProvider) FileExists(ctx context.Context, container, name string) (bool, error) {
	args := m.Called(ctx, container, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockProvider) Create(ctx context.Context, container, name string) (io.WriteCloser, error) {
	args := m.Called(ctx, container, name)
	w, _ := args.Get(0).(io.WriteCloser)
	return w, args.Error(1)
}

func (m *mockProvider) Open(ctx context.Context, container, name string) (io.ReadCloser, error) {
	args := m.Called(ctx, container, name)
	r, _ := args.Get(0).(io.ReadCloser)
	return r, args.Error(1)
}

func (m *mockProvider) Delete(ctx context.Context, container, name string) error {
	return m.Called(ctx, container, name).Error(0)
}

func (m *mockProvider) List(ctx context.Context, container string) ([]string, error) {
	args := m.Called(ctx, container)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (m *mockProvider) Containers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (m *mockProvider) Close() error {
	return m.Called().Error(0)
}

type failingCloser struct {
	strings.Builder
	err error
}

func (f *failingCloser) Close() error { return f.err }

func TestProviderFailures(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("no space left on device")

	t.Run("create fails", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Create", mock.Anything, "c", "f").Return(nil, diskFull)
		d := readyDevice(p)

		op, err := d.SaveAsync(ctx, "c", "f", writeString("x"))
		require.NoError(t, err, "I/O errors are delivered through the completion")
		err = op.Wait(ctx)
		assert.ErrorIs(t, err, diskFull)
		assert.Equal(t, CodeIO, Classify(err))
		assert.False(t, d.IsBusy())
		p.AssertExpectations(t)
	})

	t.Run("close fails", func(t *testing.T) {
		p := &mockProvider{}
		w := &failingCloser{err: diskFull}
		p.On("Create", mock.Anything, "c", "f").Return(w, nil)
		d := readyDevice(p)

		op, err := d.SaveAsync(ctx, "c", "f", writeString("payload"))
		require.NoError(t, err)
		assert.ErrorIs(t, op.Wait(ctx), diskFull)
		assert.Equal(t, "payload", w.String())
	})

	t.Run("writer and close both fail", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Create", mock.Anything, "c", "f").Return(&failingCloser{err: diskFull}, nil)
		d := readyDevice(p)

		boom := errors.New("boom")
		op, err := d.SaveAsync(ctx, "c", "f", func(io.Writer) error { return boom })
		require.NoError(t, err)
		err = op.Wait(ctx)
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, diskFull)
	})

	t.Run("existence check fails", func(t *testing.T) {
		p := &mockProvider{}
		p.On("FileExists", mock.Anything, "c", "f").Return(false, storage.ErrUnavailable)
		d := readyDevice(p)

		assert.False(t, d.FileExists(ctx, "c", "f"))
		err := d.Load(ctx, "c", "f", func(io.Reader) error { return nil })
		assert.ErrorIs(t, err, storage.ErrUnavailable)
		assert.Equal(t, CodeUnavailable, Classify(err))
		assert.False(t, d.IsBusy())
	})

	t.Run("file vanishes before open", func(t *testing.T) {
		p := &mockProvider{}
		p.On("FileExists", mock.Anything, "c", "f").Return(true, nil)
		p.On("Open", mock.Anything, "c", "f").Return(nil, fmt.Errorf("c/f: %w", storage.ErrNotFound))
		d := readyDevice(p)

		err := d.Load(ctx, "c", "f", func(io.Reader) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, d.IsBusy())
	})
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeOK},
		{"not ready", ErrDeviceNotReady, CodeNotReady},
		{"busy", fmt.Errorf("save: %w", ErrDeviceBusy), CodeBusy},
		{"closed", ErrClosed, CodeClosed},
		{"not found", fmt.Errorf("x: %w", storage.ErrNotFound), CodeNotFound},
		{"invalid name", storage.ErrInvalidName, CodeInvalidName},
		{"unavailable", storage.ErrUnavailable, CodeUnavailable},
		{"canceled", storage.ErrSelectorCanceled, CodeCanceled},
		{"context", context.Canceled, CodeCanceled},
		{"other", errors.New("disk on fire"), CodeIO},
		{"combined", combine(errors.New("a"), storage.ErrNotFound), CodeNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestCombine(t *testing.T) {
	assert.NoError(t, combine(nil, nil))

	a := errors.New("a")
	assert.Same(t, a, combine(nil, a))

	err := combine(a, errors.New("b"))
	assert.Equal(t, "a; b", err.Error())
	assert.ErrorIs(t, err, a)
}
