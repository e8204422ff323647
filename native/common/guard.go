// Package common carries helpers shared by the custody engines.
package common

import (
	"errors"
	"sync"
)

var (
	ErrModulePaused = errors.New("module paused")
	ErrUnauthorized = errors.New("pause: unauthorized caller")
)

// PauseView reports whether a module's mutating operations are suspended.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused. A nil view or empty
// module name means no pause wiring, which is always allowed.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is an owner-gated pause switchboard implementing PauseView.
type Pauses struct {
	mu     sync.Mutex
	owner  [20]byte
	paused map[string]bool
}

// NewPauses creates a switchboard administered by the owner address.
func NewPauses(owner [20]byte) *Pauses {
	return &Pauses{owner: owner, paused: make(map[string]bool)}
}

// SetPaused toggles the pause flag for a module. Owner only.
func (p *Pauses) SetPaused(caller [20]byte, module string, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrUnauthorized
	}
	p.paused[module] = paused
	return nil
}

// IsPaused implements the PauseView interface.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused[module]
}
