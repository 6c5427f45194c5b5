package savedevice

import (
	"fmt"
	"log/slog"

	"github.com/lucasew/easysave/internal/storage"
)

// IsolatedDevice stores files in a namespace reserved for one title. The
// medium is always present, so the device is ready as soon as it is built.
type IsolatedDevice struct {
	*base
	root storage.Provider
}

var _ Device = (*IsolatedDevice)(nil)

func NewIsolated(provider storage.Provider, title string, logger *slog.Logger) (*IsolatedDevice, error) {
	ns, err := storage.Isolate(provider, title)
	if err != nil {
		return nil, fmt.Errorf("isolate %q: %w", title, err)
	}

	b := newBase(logger)
	b.provider = ns
	b.phase = StateReady
	b.logger.Info("isolated save device ready", "provider", ns.Name())

	return &IsolatedDevice{base: b, root: provider}, nil
}

// Close waits for the in-flight operation and closes the medium.
func (d *IsolatedDevice) Close() error {
	if !d.shutdown() {
		return nil
	}
	return d.root.Close()
}
