package savedevice

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type OpKind string

const (
	OpSave   OpKind = "save"
	OpLoad   OpKind = "load"
	OpDelete OpKind = "delete"
)

// Completion is the outcome of one operation. It is produced exactly once,
// after the operation's stream has been closed and the device is no longer
// busy.
type Completion struct {
	OpID       string
	Kind       OpKind
	Container  string
	File       string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (c Completion) Code() Code { return Classify(c.Err) }

func (c Completion) Duration() time.Duration { return c.FinishedAt.Sub(c.StartedAt) }

// Operation is the handle returned by the asynchronous calls.
type Operation struct {
	id        string
	kind      OpKind
	container string
	file      string
	started   time.Time

	done   chan struct{}
	result Completion
}

func newOperation(kind OpKind, container, file string) *Operation {
	return &Operation{
		id:        uuid.NewString(),
		kind:      kind,
		container: container,
		file:      file,
		started:   time.Now(),
		done:      make(chan struct{}),
	}
}

func (o *Operation) ID() string        { return o.id }
func (o *Operation) Kind() OpKind      { return o.kind }
func (o *Operation) Container() string { return o.container }
func (o *Operation) File() string      { return o.file }

// Done is closed once the operation has completed.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Result returns the completion and true once the operation has completed.
func (o *Operation) Result() (Completion, bool) {
	select {
	case <-o.done:
		return o.result, true
	default:
		return Completion{}, false
	}
}

// Wait blocks until the operation completes and returns its error. If ctx
// ends first Wait returns ctx.Err() and the operation keeps running.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Operation) complete(err error) Completion {
	o.result = Completion{
		OpID:       o.id,
		Kind:       o.kind,
		Container:  o.container,
		File:       o.file,
		Err:        err,
		StartedAt:  o.started,
		FinishedAt: time.Now(),
	}
	close(o.done)
	return o.result
}
