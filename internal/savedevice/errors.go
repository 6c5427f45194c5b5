package savedevice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc/panics"

	"github.com/lucasew/easysave/internal/storage"
)

var (
	ErrDeviceNotReady = errors.New("save device is not ready")
	ErrDeviceBusy     = errors.New("save device is busy")
	ErrClosed         = errors.New("save device is closed")

	// Re-exported so callers only need this package to inspect results.
	ErrNotFound    = storage.ErrNotFound
	ErrInvalidName = storage.ErrInvalidName
)

// PanicError carries a panic recovered from a user supplied reader or writer.
type PanicError struct {
	Recovered *panics.Recovered
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in user function: %v", e.Recovered.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Recovered.Value.(error); ok {
		return err
	}
	return nil
}

// Code is a stable, machine readable error class.
type Code string

const (
	CodeOK          Code = "ok"
	CodeNotReady    Code = "not_ready"
	CodeBusy        Code = "busy"
	CodeNotFound    Code = "not_found"
	CodeInvalidName Code = "invalid_name"
	CodeUnavailable Code = "unavailable"
	CodeCanceled    Code = "canceled"
	CodeClosed      Code = "closed"
	CodePanic       Code = "panic"
	CodeIO          Code = "io"
)

// Classify maps an operation error to its Code. Order matters: a panic whose
// value wraps ErrNotFound is still reported as a panic.
func Classify(err error) Code {
	var pe *PanicError
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &pe):
		return CodePanic
	case errors.Is(err, ErrDeviceNotReady):
		return CodeNotReady
	case errors.Is(err, ErrDeviceBusy):
		return CodeBusy
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, storage.ErrInvalidName):
		return CodeInvalidName
	case errors.Is(err, storage.ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, storage.ErrSelectorCanceled), errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeIO
	}
}

// combine merges the errors of one operation. A single error is returned as is.
func combine(errs ...error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	result.ErrorFormat = func(es []error) string {
		parts := make([]string, len(es))
		for i, e := range es {
			parts[i] = e.Error()
		}
		return strings.Join(parts, "; ")
	}
	return result
}
