// Package donation implements the fee-on-transfer forwarding sibling: a donor
// sends tokens to a recipient, the protocol retains a configurable percentage
// through the income sink and both sides keep a queryable journal of their
// donations.
package donation

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/socious-io/socious-smart-contracts/core/events"
	"github.com/socious-io/socious-smart-contracts/core/types"
	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/common"
	"github.com/socious-io/socious-smart-contracts/native/income"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

const moduleName = "donation"

// EventTypeSent is emitted once per forwarded donation.
const EventTypeSent = "donation.sent"

// DefaultFeeBps is the forwarding fee charged when none is configured.
const DefaultFeeBps = 100

// MaxFeeBps caps the configurable forwarding fee at 10%.
const MaxFeeBps = 1000

var (
	ErrNilState       = errors.New("donation: state not configured")
	ErrUnauthorized   = errors.New("donation: unauthorized caller")
	ErrInvalidAmount  = errors.New("donation: amount must be positive")
	ErrUnknownToken   = errors.New("donation: token not registered")
	ErrFeeOutOfRange  = errors.New("donation: fee bps out of range")
	ErrTransferFailed = errors.New("donation: token transfer failed")
)

// Record is one journal entry, stored under both the donor's sent journal and
// the recipient's received journal.
type Record struct {
	Donor     token.Address `json:"donor"`
	Recipient token.Address `json:"recipient"`
	Token     uint32        `json:"token"`
	Gross     *big.Int      `json:"gross"`
	Fee       *big.Int      `json:"fee"`
	Net       *big.Int      `json:"net"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Gross = new(big.Int).Set(r.Gross)
	clone.Fee = new(big.Int).Set(r.Fee)
	clone.Net = new(big.Int).Set(r.Net)
	return &clone
}

type engineState interface {
	DonationAppend(rec *Record) error
	DonationsSent(addr token.Address) []*Record
	DonationsReceived(addr token.Address) []*Record
}

type donationEvent struct {
	evt *types.Event
}

func (e donationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e donationEvent) Event() *types.Event { return e.evt }

// Engine forwards donations, retaining the protocol fee through the income
// sink.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	owner    token.Address
	vault    token.Address
	registry *token.Registry
	tokens   token.Source
	sink     *income.Sink
	emitter  events.Emitter
	pauses   common.PauseView
	feeBps   uint32
}

// NewEngine creates a donation engine with the default forwarding fee.
func NewEngine(owner, vault token.Address, registry *token.Registry, tokens token.Source, sink *income.Sink) *Engine {
	return &Engine{
		owner:    owner,
		vault:    vault,
		registry: registry,
		tokens:   tokens,
		sink:     sink,
		emitter:  events.NoopEmitter{},
		feeBps:   DefaultFeeBps,
	}
}

// SetState configures the journal store used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// Fee reports the current forwarding fee in basis points.
func (e *Engine) Fee() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeBps
}

// SetFee changes the forwarding fee. Owner only; capped at MaxFeeBps.
func (e *Engine) SetFee(caller token.Address, bps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrUnauthorized
	}
	if bps > MaxFeeBps {
		return ErrFeeOutOfRange
	}
	e.feeBps = bps
	return nil
}

// Donate pulls the gross amount from the donor, routes the fee to the income
// sink and forwards the remainder to the recipient.
func (e *Engine) Donate(caller, recipient, tokenAddr token.Address, amount *big.Int) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	tokenIndex, err := e.registry.IndexOf(tokenAddr)
	if err != nil {
		return nil, ErrUnknownToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	tok, ok := e.tokens.Token(tokenAddr)
	if !ok {
		return nil, ErrUnknownToken
	}

	fee := new(big.Int).Mul(amount, big.NewInt(int64(e.feeBps)))
	fee.Div(fee, big.NewInt(10_000))
	net := new(big.Int).Sub(amount, fee)

	if err := tok.TransferFrom(e.vault, caller, e.vault, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientAllowance) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	rollback := func() {
		_ = tok.Transfer(e.vault, caller, amount)
	}
	if net.Sign() > 0 {
		if err := tok.Transfer(e.vault, recipient, net); err != nil {
			rollback()
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}
	if err := e.sink.Route(tokenAddr, fee); err != nil {
		// The net already reached the recipient and cannot be clawed back;
		// the fee stays in the vault and accrues for an owner sweep instead
		// of unwinding the donation.
		e.sink.Park(tokenAddr, fee)
	}

	rec := &Record{
		Donor:     caller,
		Recipient: recipient,
		Token:     tokenIndex,
		Gross:     new(big.Int).Set(amount),
		Fee:       fee,
		Net:       net,
	}
	if err := e.state.DonationAppend(rec); err != nil {
		return nil, err
	}
	e.emit(&types.Event{
		Type: EventTypeSent,
		Attributes: map[string]string{
			"donor":     crypto.FormatAddress(caller),
			"recipient": crypto.FormatAddress(recipient),
			"fee":       fee.String(),
			"netAmount": net.String(),
			"token":     crypto.FormatAddress(tokenAddr),
		},
	})
	return rec.Clone(), nil
}

// Sent returns the caller-visible journal of donations made by the address.
func (e *Engine) Sent(addr token.Address) ([]*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	return e.state.DonationsSent(addr), nil
}

// Received returns the journal of donations received by the address.
func (e *Engine) Received(addr token.Address) ([]*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	return e.state.DonationsReceived(addr), nil
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(donationEvent{evt: evt})
}
