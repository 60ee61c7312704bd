package settings

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/goccy/go-json"

	"github.com/arloliu/go-flashforge/logger"
)

// InstancesKey is the store key of the address document.
const InstancesKey = "flashforge/instances"

var (
	// ErrInvalidAddress is returned when an address is not an IPv4 dotted quad.
	ErrInvalidAddress = errors.New("settings: invalid IPv4 address")
	// ErrNoIdentity is returned when no printer identity is selected.
	ErrNoIdentity = errors.New("settings: no printer identity")
)

var ipv4Re = regexp.MustCompile(`^((25[0-5]|(2[0-4]|1\d|[1-9]|)\d)\.?\b){4}$`)

// ValidAddress reports whether address is an IPv4 dotted quad.
func ValidAddress(address string) bool {
	return ipv4Re.MatchString(address)
}

// Instance is the stored configuration of one printer.
type Instance struct {
	Address string `json:"address"`
}

// IdentityFunc returns the identity of the currently selected printer, or
// false when none is selected.
type IdentityFunc func() (string, bool)

// FixedIdentity returns an IdentityFunc that always selects id.
func FixedIdentity(id string) IdentityFunc {
	return func() (string, bool) {
		return id, id != ""
	}
}

// AddressBook stores one printer address per printer identity.
type AddressBook struct {
	store    Store
	identity IdentityFunc
	logger   logger.Logger

	mu sync.Mutex // serializes read-modify-write of the document
}

// BookOption configures an AddressBook.
type BookOption func(*AddressBook)

// WithIdentity sets the provider of the current printer identity.
func WithIdentity(fn IdentityFunc) BookOption {
	return func(b *AddressBook) {
		b.identity = fn
	}
}

// WithLogger sets the logger of the address book.
func WithLogger(l logger.Logger) BookOption {
	return func(b *AddressBook) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewAddressBook creates an address book on store. Without WithIdentity the
// operations on the current identity return ErrNoIdentity or nothing.
func NewAddressBook(store Store, opts ...BookOption) *AddressBook {
	b := &AddressBook{
		store:    store,
		identity: func() (string, bool) { return "", false },
		logger:   logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Identity returns the current printer identity.
func (b *AddressBook) Identity() (string, bool) {
	return b.identity()
}

// LoadAll returns every stored printer. A missing document is an empty map.
func (b *AddressBook) LoadAll() (map[string]Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.load()
}

// Get returns the instance of the current identity.
func (b *AddressBook) Get() (Instance, bool, error) {
	id, ok := b.identity()
	if !ok {
		return Instance{}, false, nil
	}

	return b.GetFor(id)
}

// GetFor returns the instance of printer id.
func (b *AddressBook) GetFor(id string) (Instance, bool, error) {
	all, err := b.LoadAll()
	if err != nil {
		return Instance{}, false, err
	}

	inst, ok := all[id]

	return inst, ok, nil
}

// Save sets the address of the current identity and returns the updated document.
func (b *AddressBook) Save(address string) (map[string]Instance, error) {
	id, ok := b.identity()
	if !ok {
		return nil, ErrNoIdentity
	}

	return b.SaveFor(id, address)
}

// SaveFor sets the address of printer id and returns the updated document.
func (b *AddressBook) SaveFor(id string, address string) (map[string]Instance, error) {
	if id == "" {
		return nil, ErrNoIdentity
	}
	if !ValidAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.load()
	if err != nil {
		return nil, err
	}

	all[id] = Instance{Address: address}
	if err := b.persist(all); err != nil {
		return nil, err
	}

	b.logger.Info("printer address saved", "printer", id, "address", address)

	return all, nil
}

// Delete removes printer id, or the current identity when id is empty.
// It returns false when there was nothing to remove.
func (b *AddressBook) Delete(id string) (bool, error) {
	if id == "" {
		cur, ok := b.identity()
		if !ok {
			return false, nil
		}
		id = cur
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.load()
	if err != nil {
		return false, err
	}

	if _, ok := all[id]; !ok {
		return false, nil
	}

	delete(all, id)
	if err := b.persist(all); err != nil {
		return false, err
	}

	b.logger.Info("printer address deleted", "printer", id)

	return true, nil
}

func (b *AddressBook) load() (map[string]Instance, error) {
	data, err := b.store.Get(InstancesKey)
	if errors.Is(err, ErrNotFound) || (err == nil && len(data) == 0) {
		return make(map[string]Instance), nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: load %s: %w", InstancesKey, err)
	}

	all := make(map[string]Instance)
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("settings: decode %s: %w", InstancesKey, err)
	}

	return all, nil
}

func (b *AddressBook) persist(all map[string]Instance) error {
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}

	if err := b.store.Set(InstancesKey, data); err != nil {
		return fmt.Errorf("settings: save %s: %w", InstancesKey, err)
	}

	return nil
}
