// Package income tracks protocol-retained fees and forwards them to a
// configurable beneficiary. The primary mode forwards each fee remainder
// synchronously within the settlement that produced it, keeping the retained
// balance at zero between settlements; the legacy accumulate-then-sweep API is
// retained for integrations that still expect it.
package income

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/socious-io/socious-smart-contracts/native/token"
)

var (
	ErrUnauthorized   = errors.New("income: unauthorized caller")
	ErrUnknownToken   = errors.New("income: token not bound")
	ErrTransferFailed = errors.New("income: transfer failed")
)

// Sink receives protocol fee remainders from the custody engines. Funds sit in
// the vault account until forwarded; in immediate mode forwarding happens as
// part of Route.
type Sink struct {
	mu          sync.Mutex
	owner       token.Address
	beneficiary token.Address
	vault       token.Address
	tokens      token.Source
	immediate   bool
	retained    map[token.Address]*big.Int
}

// New creates a sink in immediate-forward mode. The beneficiary defaults to
// the owner. The vault is the account the engines park fee remainders in
// before forwarding.
func New(owner, vault token.Address, tokens token.Source) *Sink {
	return &Sink{
		owner:       owner,
		beneficiary: owner,
		vault:       vault,
		tokens:      tokens,
		immediate:   true,
		retained:    make(map[token.Address]*big.Int),
	}
}

// NewAccumulating creates a sink in the legacy accumulate-then-sweep mode:
// Route only records the retained balance and TransferAssets performs the
// sweep.
func NewAccumulating(owner, vault token.Address, tokens token.Source) *Sink {
	s := New(owner, vault, tokens)
	s.immediate = false
	return s
}

// SetBeneficiary changes where future fee remainders are forwarded. Already
// forwarded amounts are unaffected. Owner only.
func (s *Sink) SetBeneficiary(caller, beneficiary token.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return ErrUnauthorized
	}
	s.beneficiary = beneficiary
	return nil
}

// Beneficiary reports the current forwarding target.
func (s *Sink) Beneficiary() token.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beneficiary
}

func (s *Sink) retainedLocked(tokenAddr token.Address) *big.Int {
	bal, ok := s.retained[tokenAddr]
	if !ok {
		bal = big.NewInt(0)
		s.retained[tokenAddr] = bal
	}
	return bal
}

// Route accepts a fee remainder that the calling engine already moved into the
// vault. In immediate mode the amount is forwarded to the beneficiary before
// Route returns; otherwise it accrues to the per-token retained balance.
func (s *Sink) Route(tokenAddr token.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.immediate {
		s.retainedLocked(tokenAddr).Add(s.retainedLocked(tokenAddr), amount)
		return nil
	}
	tok, ok := s.tokens.Token(tokenAddr)
	if !ok {
		return ErrUnknownToken
	}
	if err := tok.Transfer(s.vault, s.beneficiary, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// Park records a fee remainder whose forward transfer failed. The funds are
// already in the vault; they accrue to the retained balance regardless of
// mode and leave through an owner-driven TransferAssets sweep. Park cannot
// fail, which lets the engines keep settlement terminal when the beneficiary
// rejects a transfer.
func (s *Sink) Park(tokenAddr token.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retainedLocked(tokenAddr).Add(s.retainedLocked(tokenAddr), amount)
}

// Collect reports the running retained-fee balance for a token. In immediate
// mode this is always zero between settlements.
func (s *Sink) Collect(tokenAddr token.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.retainedLocked(tokenAddr))
}

// TransferAssets sweeps the retained balance for a token to the given
// recipient and zeroes it. Owner only. Legacy API.
func (s *Sink) TransferAssets(caller, to, tokenAddr token.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return ErrUnauthorized
	}
	balance := s.retainedLocked(tokenAddr)
	if balance.Sign() == 0 {
		return nil
	}
	tok, ok := s.tokens.Token(tokenAddr)
	if !ok {
		return ErrUnknownToken
	}
	amount := new(big.Int).Set(balance)
	// Zero before the external transfer so a reentrant sweep sees nothing to
	// take; restore on failure.
	balance.SetInt64(0)
	if err := tok.Transfer(s.vault, to, amount); err != nil {
		balance.Set(amount)
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// TransferOwnership hands sink administration to a new owner. Only the current
// owner may call it.
func (s *Sink) TransferOwnership(caller, newOwner token.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return ErrUnauthorized
	}
	s.owner = newOwner
	return nil
}
