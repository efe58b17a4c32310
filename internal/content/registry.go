package content

import (
	"fmt"
	"sort"
	"sync"

	"inertiavault/internal/iv"
)

var _ iv.StoreRegistry = (*Registry)(nil)

// Registry owns one Store per configured destination. Jobs targeting the same
// destination share its store and therefore its blocks.
type Registry struct {
	mu      sync.Mutex
	dests   map[string]iv.Destination
	stores  map[string]*Store
	ledger  iv.BlockLedger
	enc     iv.Encryptor
	opts    iv.EncodeOptions
	clock   iv.Clock
	logger  iv.Logger
	decrypt iv.DecryptionContext
}

// NewRegistry creates a Registry over dests. Destination names must be unique.
func NewRegistry(dests []iv.Destination, ledger iv.BlockLedger, encryptor iv.Encryptor, defaults iv.EncodeOptions, clock iv.Clock, logger iv.Logger) (*Registry, error) {
	r := &Registry{
		dests:  make(map[string]iv.Destination, len(dests)),
		stores: make(map[string]*Store, len(dests)),
		ledger: ledger,
		enc:    encryptor,
		opts:   defaults,
		clock:  clock,
		logger: logger,
	}
	for _, d := range dests {
		if _, dup := r.dests[d.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate destination %q", iv.ErrConfiguration, d.Name())
		}
		r.dests[d.Name()] = d
	}
	return r, nil
}

func (r *Registry) Destination(name string) (iv.Destination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dests[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown destination %q", iv.ErrConfiguration, name)
	}
	return d, nil
}

func (r *Registry) Store(name string) (iv.ContentStore, error) {
	return r.store(name)
}

func (r *Registry) store(name string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[name]; ok {
		return s, nil
	}
	d, ok := r.dests[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown destination %q", iv.ErrConfiguration, name)
	}
	s, err := NewStore(d, r.ledger, r.enc, r.opts, r.clock, r.logger)
	if err != nil {
		return nil, err
	}
	if r.decrypt != nil {
		s.SetDecryption(r.decrypt)
	}
	r.stores[name] = s
	return s, nil
}

// Names returns the destination names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.dests))
	for n := range r.dests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Unlock makes encrypted blocks readable on every store for the rest of the
// session.
func (r *Registry) Unlock(dec iv.DecryptionContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decrypt = dec
	for _, s := range r.stores {
		s.SetDecryption(dec)
	}
}
