package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/lucasew/easysave/internal/storage"
)

const tempPrefix = ".easysave-"

// Store implements storage.Provider on top of an afero filesystem.
// Containers are directories, files are regular files inside them.
type Store struct {
	name string
	fs   afero.Fs
	// root is the directory on the host filesystem backing fs, empty for
	// in-memory stores. It is what Watch observes.
	root string
}

var (
	_ storage.Provider   = (*Store)(nil)
	_ storage.Namespacer = (*Store)(nil)
	_ storage.Watcher    = (*Store)(nil)
)

// New wraps an arbitrary afero filesystem.
func New(name string, fsys afero.Fs) *Store {
	return &Store{name: name, fs: fsys}
}

// NewMemory returns a store that lives only as long as the process.
func NewMemory(name string) *Store {
	return New(name, afero.NewMemMapFs())
}

// NewLocal returns a store rooted at a directory of the host filesystem.
// When create is false the directory must already exist; a missing root is
// reported by Available, which is how removable media are modelled.
func NewLocal(name, root string, create bool) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if create {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create storage root: %w", err)
		}
	}
	return &Store{
		name: name,
		fs:   afero.NewBasePathFs(afero.NewOsFs(), abs),
		root: abs,
	}, nil
}

func (s *Store) Name() string { return s.name }

// Root returns the host directory backing the store, if any.
func (s *Store) Root() string { return s.root }

// Available checks the host root for local stores, so a namespaced view of
// a removable medium follows the medium rather than its own subdirectory.
func (s *Store) Available(ctx context.Context) error {
	var ok bool
	var err error
	if s.root != "" {
		ok, err = afero.DirExists(afero.NewOsFs(), s.root)
	} else {
		ok, err = afero.DirExists(s.fs, string(filepath.Separator))
	}
	if err != nil || !ok {
		return fmt.Errorf("%s: %w", s.name, storage.ErrUnavailable)
	}
	return nil
}

func (s *Store) FileExists(ctx context.Context, container, name string) (bool, error) {
	info, err := s.fs.Stat(filePath(container, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}
	return !info.IsDir(), nil
}

// Create writes to a temporary file in the container directory and renames it
// into place on Close, so readers never observe a half-written file.
func (s *Store) Create(ctx context.Context, container, name string) (io.WriteCloser, error) {
	// MkdirAll would otherwise recreate the root of an unplugged medium.
	if err := s.Available(ctx); err != nil {
		return nil, err
	}
	dir := dirPath(container)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create container directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPrefix+name+"-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileWriter{fs: s.fs, tmp: tmp, final: filePath(container, name)}, nil
}

func (s *Store) Open(ctx context.Context, container, name string) (io.ReadCloser, error) {
	f, err := s.fs.Open(filePath(container, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", container, name, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Store) Delete(ctx context.Context, container, name string) error {
	p := filePath(container, name)
	if _, err := s.fs.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s/%s: %w", container, name, storage.ErrNotFound)
		}
		return fmt.Errorf("stat file: %w", err)
	}
	if err := s.fs.Remove(p); err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, container string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dirPath(container))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read container directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) Containers(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, string(filepath.Separator))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	containers := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			containers = append(containers, entry.Name())
		}
	}
	sort.Strings(containers)
	return containers, nil
}

// Namespace returns a store confined to a subdirectory named ns. The
// directory is created now if the medium is present and otherwise on the
// first write.
func (s *Store) Namespace(ns string) (storage.Provider, error) {
	dir := dirPath(ns)
	if s.Available(context.Background()) == nil {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create namespace directory: %w", err)
		}
	}
	return &Store{
		name: s.name + "/" + ns,
		fs:   afero.NewBasePathFs(s.fs, dir),
		root: s.root,
	}, nil
}

func (s *Store) Close() error { return nil }

func dirPath(container string) string {
	return filepath.Join(string(filepath.Separator), container)
}

func filePath(container, name string) string {
	return filepath.Join(string(filepath.Separator), container, name)
}

type fileWriter struct {
	fs    afero.Fs
	tmp   afero.File
	final string
	done  bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.tmp.Sync(); err != nil {
		_ = w.tmp.Close()
		_ = w.fs.Remove(w.tmp.Name())
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		_ = w.fs.Remove(w.tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := w.fs.Rename(w.tmp.Name(), w.final); err != nil {
		_ = w.fs.Remove(w.tmp.Name())
		return fmt.Errorf("commit file: %w", err)
	}
	return nil
}

func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	closeErr := w.tmp.Close()
	if err := w.fs.Remove(w.tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove temp file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	return nil
}
