package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrNotFound          = errors.New("file not found")
	ErrInvalidName       = errors.New("invalid name")
	ErrUnavailable       = errors.New("storage medium unavailable")
	ErrSelectorCanceled  = errors.New("device selection canceled")
	ErrNamespaceRequired = errors.New("provider does not support isolated namespaces")
)

// Provider is the byte-stream medium a save device talks to.
// Files are addressed by a two-level (container, name) pair. Containers
// exist implicitly once they hold a file.
type Provider interface {
	// Name identifies the medium in logs and status output.
	Name() string

	// Available returns nil while the medium can serve requests and an error
	// wrapping ErrUnavailable otherwise.
	Available(ctx context.Context) error

	FileExists(ctx context.Context, container, name string) (bool, error)

	// Create opens a writer for container/name. Data becomes visible when the
	// writer is closed. If the writer also implements Aborter, Abort discards
	// everything written so far.
	Create(ctx context.Context, container, name string) (io.WriteCloser, error)

	// Open returns ErrNotFound when the file does not exist.
	Open(ctx context.Context, container, name string) (io.ReadCloser, error)

	// Delete returns ErrNotFound when the file does not exist.
	Delete(ctx context.Context, container, name string) error

	// List returns the file names in a container. Unknown containers are empty.
	List(ctx context.Context, container string) ([]string, error)

	Containers(ctx context.Context) ([]string, error)

	Close() error
}

// Aborter is implemented by writers that can drop a partially written file.
type Aborter interface {
	Abort() error
}

// Namespacer is implemented by providers that can hand out an isolated view
// of themselves, scoped to a single title.
type Namespacer interface {
	Namespace(ns string) (Provider, error)
}

// Watcher is implemented by providers that can signal changes of the
// underlying medium (e.g. a removable drive going away). Each receive on the
// returned channel means "check availability now".
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Isolate returns the view of p reserved for the given namespace.
func Isolate(p Provider, ns string) (Provider, error) {
	if err := ValidateName("namespace", ns); err != nil {
		return nil, err
	}
	n, ok := p.(Namespacer)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p.Name(), ErrNamespaceRequired)
	}
	return n.Namespace(ns)
}

// ValidateName checks a container, file or namespace name. Names must be a
// single path element so every backend can map them one to one.
func ValidateName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%s name is empty: %w", kind, ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%s name %q is reserved: %w", kind, name, ErrInvalidName)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%s name %q contains a path separator or NUL: %w", kind, name, ErrInvalidName)
	case len(name) > 255:
		return fmt.Errorf("%s name is longer than 255 bytes: %w", kind, ErrInvalidName)
	}
	return nil
}

// ValidatePair validates a (container, name) address.
func ValidatePair(container, name string) error {
	if err := ValidateName("container", container); err != nil {
		return err
	}
	return ValidateName("file", name)
}
