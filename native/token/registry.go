package token

import (
	"errors"
	"sync"
)

var (
	ErrUnauthorized    = errors.New("registry: unauthorized caller")
	ErrDuplicateToken  = errors.New("registry: token already registered")
	ErrUnknownToken    = errors.New("registry: token not registered")
	ErrIndexOutOfRange = errors.New("registry: index out of range")
)

// Registry is the ordered, append-only list of accepted token addresses.
// Escrow, lending and donation records reference tokens by their registry
// index, so positions are stable for the lifetime of the process and entries
// are never removed.
type Registry struct {
	mu      sync.Mutex
	owner   Address
	entries []Address
	index   map[Address]uint32
}

// NewRegistry creates an empty registry administered by the owner address.
func NewRegistry(owner Address) *Registry {
	return &Registry{
		owner: owner,
		index: make(map[Address]uint32),
	}
}

// Add appends the token address to the registry. Only the registry owner may
// add tokens; registering the same address twice fails.
func (r *Registry) Add(caller, addr Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrUnauthorized
	}
	if _, ok := r.index[addr]; ok {
		return ErrDuplicateToken
	}
	r.index[addr] = uint32(len(r.entries))
	r.entries = append(r.entries, addr)
	return nil
}

// Tokens returns a snapshot of the registered token addresses in insertion
// order.
func (r *Registry) Tokens() []Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Address, len(r.entries))
	copy(out, r.entries)
	return out
}

// At returns the token address stored at the given registry index.
func (r *Registry) At(index uint32) (Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.entries) {
		return Address{}, ErrIndexOutOfRange
	}
	return r.entries[index], nil
}

// IndexOf resolves a token address to its registry index.
func (r *Registry) IndexOf(addr Address) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[addr]
	if !ok {
		return 0, ErrUnknownToken
	}
	return idx, nil
}

// Len reports the number of registered tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// TransferOwnership hands registry administration to a new owner. Only the
// current owner may call it.
func (r *Registry) TransferOwnership(caller, newOwner Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrUnauthorized
	}
	r.owner = newOwner
	return nil
}
