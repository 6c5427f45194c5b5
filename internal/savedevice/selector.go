package savedevice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/lucasew/easysave/internal/storage"
)

// Selector stands in for the device selection prompt. Select returns an
// error wrapping storage.ErrSelectorCanceled when the user dismisses it.
type Selector interface {
	Select(ctx context.Context) (storage.Provider, error)
}

type SelectorFunc func(ctx context.Context) (storage.Provider, error)

func (f SelectorFunc) Select(ctx context.Context) (storage.Provider, error) { return f(ctx) }

// StaticSelector offers a fixed list of media in preference order and picks
// the first available one. If none is available the prompt counts as
// canceled.
type StaticSelector struct {
	Providers []storage.Provider
	Logger    *slog.Logger
}

func (s *StaticSelector) Select(ctx context.Context) (storage.Provider, error) {
	var result *multierror.Error
	for _, p := range s.Providers {
		err := p.Available(ctx)
		if err == nil {
			return p, nil
		}
		if s.Logger != nil {
			s.Logger.Debug("medium not available", "provider", p.Name(), "error", err)
		}
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: no medium available: %v", storage.ErrSelectorCanceled, err)
	}
	return nil, fmt.Errorf("%w: no medium configured", storage.ErrSelectorCanceled)
}

// Close closes every offered medium.
func (s *StaticSelector) Close() error {
	var result *multierror.Error
	for _, p := range s.Providers {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return result.ErrorOrNil()
}
