// Package backend turns configuration into storage providers and save
// devices.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/lucasew/easysave/internal/config"
	"github.com/lucasew/easysave/internal/sanitize"
	"github.com/lucasew/easysave/internal/savedevice"
	"github.com/lucasew/easysave/internal/storage"
	"github.com/lucasew/easysave/internal/storage/fsstore"
	"github.com/lucasew/easysave/internal/storage/postgres"
	"github.com/lucasew/easysave/internal/storage/remote"
	"github.com/lucasew/easysave/internal/storage/sqlite"
)

// Open builds the provider described by sc.
func Open(sc config.StorageConfig) (storage.Provider, error) {
	switch sc.Type {
	case config.StorageLocal:
		return fsstore.NewLocal(sc.Name, sc.Path, sc.Create)
	case config.StorageMemory:
		return fsstore.NewMemory(sc.Name), nil
	case config.StorageSQLite:
		return sqlite.NewStore(sc.Name, sc.Path)
	case config.StoragePostgres:
		return postgres.NewStore(sc.Name, sc.DSN)
	case config.StorageRemote:
		return remote.New(sc.Name, sc.URL, sc.Token)
	default:
		return nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}
}

// Location describes where sc stores data, safe to log.
func Location(sc config.StorageConfig) string {
	switch sc.Type {
	case config.StoragePostgres:
		return sanitize.Location(sc.DSN)
	case config.StorageRemote:
		return sanitize.Location(sc.URL)
	case config.StorageMemory:
		return "memory"
	default:
		return sanitize.Location(sc.Path)
	}
}

// response combines the configured reaction to a device event with the
// observers that report it. Observers run first.
func response(name string, observers ...savedevice.EventHandler) savedevice.EventHandler {
	force := name != config.ResponseNothing
	if !force && len(observers) == 0 {
		return nil
	}
	return func(e *savedevice.DeviceEvent) {
		for _, observe := range observers {
			if observe != nil {
				observe(e)
			}
		}
		if force {
			savedevice.ForceHandler(e)
		}
	}
}

// NewDevice builds the device for cfg.Device.Mode. A shared device is
// returned with a prompt already requested; the caller must drive it with
// Run. Observers see every selector cancellation and disconnect of a shared
// device before the configured response applies.
func NewDevice(cfg *config.Config, logger *slog.Logger, observers ...savedevice.EventHandler) (savedevice.Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Device.Mode {
	case config.ModeIsolated:
		logger.Info("opening storage", "name", cfg.Storage.Name, "type", cfg.Storage.Type, "location", Location(cfg.Storage))
		p, err := Open(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage %q: %w", cfg.Storage.Name, err)
		}
		d, err := savedevice.NewIsolated(p, cfg.Device.Title, logger)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		return d, nil

	case config.ModeShared:
		sel, err := NewMediaSelector(cfg.Media, cfg.Device.Title, logger)
		if err != nil {
			return nil, err
		}
		d := savedevice.NewShared(sel, savedevice.SharedOptions{
			TickInterval:         cfg.Device.TickInterval,
			OnSelectorCanceled:   response(cfg.Device.OnCanceled, observers...),
			OnDeviceDisconnected: response(cfg.Device.OnDisconnected, observers...),
			Logger:               logger,
		})
		d.PromptForDevice()
		return d, nil

	default:
		return nil, fmt.Errorf("unknown device mode %q", cfg.Device.Mode)
	}
}

// NewMediaSelector opens every configured medium and offers them in order.
// Media that can be namespaced are scoped to title so several titles can
// share a drive. Closing a scoped view closes its medium.
func NewMediaSelector(media []config.StorageConfig, title string, logger *slog.Logger) (*savedevice.StaticSelector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sel := &savedevice.StaticSelector{Logger: logger}
	for _, m := range media {
		logger.Debug("opening medium", "name", m.Name, "type", m.Type, "location", Location(m))
		p, err := Open(m)
		if err != nil {
			var result *multierror.Error
			result = multierror.Append(result, fmt.Errorf("open medium %q: %w", m.Name, err))
			if cerr := sel.Close(); cerr != nil {
				result = multierror.Append(result, cerr)
			}
			return nil, result.ErrorOrNil()
		}
		if _, ok := p.(storage.Namespacer); ok && title != "" {
			ns, err := storage.Isolate(p, title)
			if err != nil {
				_ = p.Close()
				_ = sel.Close()
				return nil, fmt.Errorf("isolate medium %q: %w", m.Name, err)
			}
			p = ns
		}
		sel.Providers = append(sel.Providers, p)
	}
	return sel, nil
}
