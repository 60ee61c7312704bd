package device

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/settings"
)

// Registry holds the device of every printer identity with a configured address.
type Registry struct {
	ctx     context.Context
	book    *settings.AddressBook
	opts    []Option
	logger  logger.Logger
	devices *xsync.MapOf[string, *Device]

	mu sync.Mutex // serializes Refresh and Remove
}

// NewRegistry creates a registry reading addresses from book. Devices are
// created with opts and live until ctx is canceled or they are removed.
func NewRegistry(ctx context.Context, book *settings.AddressBook, opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Registry{
		ctx:     ctx,
		book:    book,
		opts:    opts,
		logger:  o.logger,
		devices: xsync.NewMapOf[string, *Device](),
	}
}

// Refresh synchronizes the device of printer id with its stored address.
// It returns nil when no address is stored, removing a previous device.
func (r *Registry) Refresh(id string, opts ...Option) (*Device, error) {
	inst, ok, err := r.book.GetFor(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.devices.Load(id)
	if !ok {
		if exists {
			r.remove(id, cur)
		}

		return nil, nil
	}

	if exists {
		if cur.Address() == inst.Address {
			return cur, nil
		}
		r.remove(id, cur)
	}

	all := append(append([]Option{}, r.opts...), opts...)
	d, err := New(r.ctx, id, inst.Address, all...)
	if err != nil {
		return nil, err
	}

	r.devices.Store(id, d)
	r.logger.Info("device registered", "device", id, "address", inst.Address)

	return d, nil
}

// RefreshAll synchronizes the registry with every stored printer.
func (r *Registry) RefreshAll() error {
	all, err := r.book.LoadAll()
	if err != nil {
		return err
	}

	for id := range all {
		if _, err := r.Refresh(id); err != nil {
			return err
		}
	}

	var stale []string
	r.devices.Range(func(id string, _ *Device) bool {
		if _, ok := all[id]; !ok {
			stale = append(stale, id)
		}

		return true
	})

	for _, id := range stale {
		r.Remove(id)
	}

	return nil
}

// Get returns the device of printer id.
func (r *Registry) Get(id string) (*Device, bool) {
	return r.devices.Load(id)
}

// Remove closes and removes the device of printer id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices.Load(id)
	if !ok {
		return false
	}
	r.remove(id, d)

	return true
}

// Range calls fn for every device until fn returns false.
func (r *Registry) Range(fn func(id string, d *Device) bool) {
	r.devices.Range(fn)
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return r.devices.Size()
}

// Close closes and removes every device.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices.Range(func(id string, d *Device) bool {
		r.remove(id, d)
		return true
	})
}

func (r *Registry) remove(id string, d *Device) {
	r.devices.Delete(id)
	if err := d.Close(); err != nil {
		r.logger.Warn("failed to close device", "device", id, "error", err)
	}
	r.logger.Info("device removed", "device", id)
}
