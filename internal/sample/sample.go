// Package sample is a small consumer of a save device: it writes a numbered
// greeting, reads it back and reports device status and completions as
// localized text lines.
package sample

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"

	"github.com/lucasew/easysave/internal/i18n"
	"github.com/lucasew/easysave/internal/savedevice"
)

const (
	Container         = "TestContainer"
	File              = "MyFile.txt"
	DefaultWriteDelay = time.Second
)

// Sequence numbers the greetings. It is owned by the caller and shared by
// every demo that should continue the same count.
type Sequence struct {
	n atomic.Int64
}

// Next returns the current value and advances the sequence.
func (s *Sequence) Next() int64 { return s.n.Add(1) - 1 }

func (s *Sequence) Current() int64 { return s.n.Load() }

// Prompter is implemented by devices that can ask for a new medium.
type Prompter interface {
	PromptForDevice()
}

type Options struct {
	// WriteDelay simulates a slow save so the busy state is observable.
	WriteDelay time.Duration
	Localizer  *i18n.Localizer
	Language   language.Tag
	Logger     *slog.Logger
}

type Demo struct {
	device    savedevice.Device
	seq       *Sequence
	delay     time.Duration
	localizer *i18n.Localizer
	lang      language.Tag
	logger    *slog.Logger

	outMu sync.Mutex
	out   io.Writer
}

func New(device savedevice.Device, seq *Sequence, out io.Writer, opts Options) (*Demo, error) {
	if seq == nil {
		seq = &Sequence{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Localizer == nil {
		l, err := i18n.New()
		if err != nil {
			return nil, err
		}
		opts.Localizer = l
	}
	if opts.Language == language.Und {
		opts.Language = opts.Localizer.Default()
	}
	return &Demo{
		device:    device,
		seq:       seq,
		delay:     opts.WriteDelay,
		localizer: opts.Localizer,
		lang:      opts.Language,
		logger:    opts.Logger,
		out:       out,
	}, nil
}

func (d *Demo) say(key string, args ...any) string {
	msg := d.localizer.Sprintf(d.lang, key, args...)
	d.println(msg)
	return msg
}

func (d *Demo) println(msg string) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if _, err := fmt.Fprintln(d.out, msg); err != nil {
		d.logger.Warn("failed to write message", "error", err)
	}
}

// WriteStuff saves the next greeting. The write happens in the background;
// the returned operation resolves when it is done.
func (d *Demo) WriteStuff(ctx context.Context) (*savedevice.Operation, error) {
	if !d.device.IsReady() {
		return nil, savedevice.ErrDeviceNotReady
	}
	return d.device.SaveAsync(ctx, Container, File, func(w io.Writer) error {
		if d.delay > 0 {
			time.Sleep(d.delay)
		}
		// The payload is not localized.
		msg := fmt.Sprintf(i18n.HelloWorld, d.seq.Next())
		if _, err := fmt.Fprintln(w, msg); err != nil {
			return err
		}
		d.say(i18n.Wrote, msg)
		return nil
	})
}

// ReadStuff loads the first line of the saved file. A missing file is
// reported to the user and returned as savedevice.ErrNotFound.
func (d *Demo) ReadStuff(ctx context.Context) (string, error) {
	if !d.device.FileExists(ctx, Container, File) {
		d.say(i18n.NoFile)
		return "", savedevice.ErrNotFound
	}

	var line string
	err := d.device.Load(ctx, Container, File, func(r io.Reader) error {
		s := bufio.NewScanner(r)
		if s.Scan() {
			line = s.Text()
		}
		return s.Err()
	})
	if err != nil {
		d.say(i18n.LoadFailed, Container, File, err.Error())
		return "", err
	}
	d.say(i18n.Read, line)
	d.say(i18n.FinishedReading)
	return line, nil
}

// StatusLines is what a UI would draw every frame.
func (d *Demo) StatusLines() []string {
	l, tag := d.localizer, d.lang
	ready := d.device.IsReady()

	lines := make([]string, 0, 4)
	if ready {
		lines = append(lines, l.Sprintf(tag, i18n.DeviceReady))
	} else {
		lines = append(lines, l.Sprintf(tag, i18n.DeviceNotReady))
	}
	if d.device.IsBusy() {
		lines = append(lines, l.Sprintf(tag, i18n.DeviceBusy))
	} else {
		lines = append(lines, l.Sprintf(tag, i18n.DeviceNotBusy))
	}
	if ready {
		lines = append(lines, l.Sprintf(tag, i18n.PressToSave), l.Sprintf(tag, i18n.PressToLoad))
	}
	if _, ok := d.device.(Prompter); ok {
		lines = append(lines, l.Sprintf(tag, i18n.PressToSwitchDevices))
	}
	return lines
}

// WatchCompletions reports every save outcome until ctx is done or the
// device is closed.
func (d *Demo) WatchCompletions(ctx context.Context) {
	ch := d.device.Subscribe()
	defer d.device.Unsubscribe(ch)
	d.consume(ctx, ch)
}

func (d *Demo) consume(ctx context.Context, ch <-chan savedevice.Completion) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			d.reportCompletion(c)
		}
	}
}

func (d *Demo) reportCompletion(c savedevice.Completion) {
	switch {
	case c.Kind == savedevice.OpSave && c.Err == nil:
		d.say(i18n.SaveCompleted)
	case c.Kind == savedevice.OpSave:
		d.say(i18n.SaveFailed, c.Container, c.File, c.Err.Error())
	case c.Kind == savedevice.OpLoad && c.Err == nil:
		d.say(i18n.LoadCompleted, c.Container, c.File)
	case c.Kind == savedevice.OpDelete && c.Err == nil:
		d.say(i18n.DeleteCompleted, c.Container, c.File)
	case c.Kind == savedevice.OpDelete:
		d.say(i18n.DeleteFailed, c.Container, c.File, c.Err.Error())
	}
}

// ReportDeviceEvent tells the user why the device has no medium. It is
// meant to observe the events of a shared device.
func (d *Demo) ReportDeviceEvent(e *savedevice.DeviceEvent) {
	switch e.Kind {
	case savedevice.EventSelectorCanceled:
		d.say(i18n.SelectorCanceled)
	case savedevice.EventDeviceDisconnected:
		d.say(i18n.DeviceDisconnected)
	}
}

// Do runs one demo command: "z" saves, "x" loads, "d" asks for a device and
// "s" prints the status lines.
func (d *Demo) Do(ctx context.Context, command string) error {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "z", "save":
		_, err := d.WriteStuff(ctx)
		return err
	case "x", "load":
		_, err := d.ReadStuff(ctx)
		return err
	case "d", "device":
		p, ok := d.device.(Prompter)
		if !ok {
			return fmt.Errorf("device does not support selection")
		}
		d.say(i18n.SelectDevice)
		p.PromptForDevice()
		return nil
	case "s", "status", "":
		for _, line := range d.StatusLines() {
			d.println(line)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// Run executes commands as they arrive and prints the status lines whenever
// they change.
func (d *Demo) Run(ctx context.Context, commands <-chan string, interval time.Duration) error {
	go d.WatchCompletions(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			if err := d.Do(ctx, cmd); err != nil {
				d.logger.Warn("command failed", "command", cmd, "code", savedevice.Classify(err), "error", err)
			}
		case <-ticker.C:
			status := strings.Join(d.StatusLines()[:2], " ")
			if status != last {
				last = status
				d.println(status)
			}
		}
	}
}
