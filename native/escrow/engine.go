package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/socious-io/socious-smart-contracts/core/events"
	"github.com/socious-io/socious-smart-contracts/core/types"
	"github.com/socious-io/socious-smart-contracts/native/common"
	"github.com/socious-io/socious-smart-contracts/native/fees"
	"github.com/socious-io/socious-smart-contracts/native/income"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

const moduleName = "escrow"

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool)
	EscrowNextID() (uint64, error)
}

// Engine is the escrow ledger and its state machine. It orchestrates token
// movements through the fee engine and the income sink. Caller identity is an
// explicit parameter on every mutating operation; the engine holds no ambient
// notion of a transaction sender.
//
// All operations run under a single mutex. The host gives no serial-execution
// guarantee, so the engine provides its own, and settlement flips the record
// to Settled before any outbound transfer so that a reentrant call through a
// hostile token implementation observes the record as already settled.
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
}

// NewEngine creates an escrow engine. The vault is the custody account that
// holds escrowed principal and pending fee remainders.
func NewEngine(owner, vault token.Address, registry *token.Registry, tokens token.Source, sink *income.Sink) *Engine {
	return &Engine{
		owner:    owner,
		vault:    vault,
		registry: registry,
		tokens:   tokens,
		sink:     sink,
		emitter:  events.NoopEmitter{},
	}
}

// SetState configures the record store used by the engine.
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

// Owner reports the protocol owner address.
func (e *Engine) Owner() token.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// TransferOwnership hands the owner role to a new address. Only the current
// owner may call it.
func (e *Engine) TransferOwnership(caller, newOwner token.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrUnauthorized
	}
	e.owner = newOwner
	return nil
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: evt})
}

func mapTransferErr(err error) error {
	if errors.Is(err, token.ErrInsufficientAllowance) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

// CreateParams carries the arguments of a deposit. Organization is the caller
// funding the escrow; Contributor may be left zero for later assignment.
type CreateParams struct {
	Organization         token.Address
	Contributor          token.Address
	JobReference         string
	Principal            *big.Int
	Token                token.Address
	OrganizationReferral Referral
	ContributorReferral  Referral
}

// Create validates and stores a new escrow, pulling principal + deposit fee
// from the organization. The deposit-lane referral reward is paid to the
// organization's referrer immediately; the fee remainder is routed to the
// income sink.
func (e *Engine) Create(p CreateParams) (*Escrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	tokenIndex, err := e.registry.IndexOf(p.Token)
	if err != nil {
		return nil, ErrUnknownToken
	}
	if p.Principal == nil || p.Principal.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	tok, ok := e.tokens.Token(p.Token)
	if !ok {
		return nil, ErrUnknownToken
	}

	quote := fees.QuoteDeposit(p.Principal, p.OrganizationReferral.Set())
	if err := tok.TransferFrom(e.vault, p.Organization, e.vault, quote.TotalDebit); err != nil {
		return nil, mapTransferErr(err)
	}
	// While the pull is the only completed leg it can be refunded exactly.
	refund := func() {
		_ = tok.Transfer(e.vault, p.Organization, quote.TotalDebit)
	}
	id, err := e.state.EscrowNextID()
	if err != nil {
		refund()
		return nil, err
	}
	esc := &Escrow{
		ID:                   id,
		Organization:         p.Organization,
		Contributor:          p.Contributor,
		JobReference:         p.JobReference,
		Principal:            new(big.Int).Set(p.Principal),
		Token:                tokenIndex,
		OrganizationReferral: p.OrganizationReferral,
		ContributorReferral:  p.ContributorReferral,
		Status:               StatusOpen,
	}
	if err := e.state.EscrowPut(esc); err != nil {
		refund()
		return nil, err
	}
	// Outbound legs cannot be clawed back from their recipients, so a
	// failure here parks the owed amount in the vault instead of unwinding
	// the deposit. Rewards are retried via RetryPayouts; the sink share
	// accrues for an owner sweep.
	if quote.Reward.Sign() > 0 {
		if err := tok.Transfer(e.vault, p.OrganizationReferral.Referrer, quote.Reward); err != nil {
			esc.Pending = append(esc.Pending, PendingPayout{
				Recipient: p.OrganizationReferral.Referrer,
				Amount:    new(big.Int).Set(quote.Reward),
			})
			e.emit(newPayoutParkedEvent(esc.ID, p.OrganizationReferral.Referrer, quote.Reward))
		}
	}
	if err := e.sink.Route(p.Token, quote.SinkShare); err != nil {
		e.sink.Park(p.Token, quote.SinkShare)
	}
	if len(esc.Pending) > 0 {
		if err := e.state.EscrowPut(esc); err != nil {
			return nil, err
		}
	}
	e.emit(newCreatedEvent(esc, quote.Fee, p.Token))
	return esc.Clone(), nil
}

// Get returns a copy of the record with the given id.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc.Clone(), nil
}

// SetContributor assigns the contributor on a record that was created without
// one. Only the record's organization may assign, only while the escrow is
// open, and only once.
func (e *Engine) SetContributor(caller token.Address, id uint64, contributor token.Address, referral Referral) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return ErrNotFound
	}
	if esc.Status != StatusOpen {
		return ErrAlreadySettled
	}
	if caller != esc.Organization {
		return ErrUnauthorized
	}
	if esc.ContributorSet() {
		return ErrAlreadyAssigned
	}
	if contributor == (token.Address{}) {
		return ErrInvalidContributor
	}
	esc.Contributor = contributor
	esc.ContributorReferral = referral
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(newAssignedEvent(esc))
	return nil
}

// Withdraw settles the escrow in favour of its contributor: the settlement
// lane fee is deducted from the principal, the contributor receives the net,
// the contributor's referrer receives the reward and the remainder goes to the
// income sink. Single-shot: a second settlement attempt fails.
func (e *Engine) Withdraw(caller token.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return ErrNotFound
	}
	if esc.Status != StatusOpen {
		return ErrAlreadySettled
	}
	if !esc.ContributorSet() {
		return ErrContributorUnset
	}
	if caller != esc.Contributor {
		return ErrUnauthorized
	}
	return e.releaseToContributor(esc)
}

// Decide is the owner-arbitrated settlement. With refundToOrganization the
// principal minus the retention fee goes back to the organization (no referral
// interaction); otherwise the decision performs the same computation as
// Withdraw and releases to the contributor.
func (e *Engine) Decide(caller token.Address, id uint64, refundToOrganization bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return ErrNotFound
	}
	if esc.Status != StatusOpen {
		return ErrAlreadySettled
	}
	if !refundToOrganization {
		if !esc.ContributorSet() {
			return ErrContributorUnset
		}
		return e.releaseToContributor(esc)
	}
	quote := fees.QuoteRetention(esc.Principal)
	return e.settle(esc, esc.Organization, quote.Refund, quote.Fee, big.NewInt(0), token.Address{}, quote.Fee)
}

func (e *Engine) releaseToContributor(esc *Escrow) error {
	quote := fees.QuoteSettlement(esc.Principal, esc.ContributorReferral.Set())
	return e.settle(esc, esc.Contributor, quote.Net, quote.Fee, quote.Reward, esc.ContributorReferral.Referrer, quote.SinkShare)
}

// settle writes the terminal status before any outbound transfer
// (checks-effects-interactions). A failed payout reverts the record to Open
// for retry, since at that point nothing has left the vault. Once the payout
// is out the record stays Settled: reopening would let a retry pay the
// recipient again out of other escrows' custody, so failed reward legs park
// on the record for RetryPayouts and a failed sink forward accrues in the
// sink.
func (e *Engine) settle(esc *Escrow, recipient token.Address, payout, fee, reward *big.Int, referrer token.Address, sinkShare *big.Int) error {
	tokenAddr, err := e.registry.At(esc.Token)
	if err != nil {
		return ErrUnknownToken
	}
	tok, ok := e.tokens.Token(tokenAddr)
	if !ok {
		return ErrUnknownToken
	}

	esc.Status = StatusSettled
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if payout.Sign() > 0 {
		if err := tok.Transfer(e.vault, recipient, payout); err != nil {
			esc.Status = StatusOpen
			_ = e.state.EscrowPut(esc)
			return mapTransferErr(err)
		}
	}
	if reward.Sign() > 0 {
		if err := tok.Transfer(e.vault, referrer, reward); err != nil {
			esc.Pending = append(esc.Pending, PendingPayout{
				Recipient: referrer,
				Amount:    new(big.Int).Set(reward),
			})
			e.emit(newPayoutParkedEvent(esc.ID, referrer, reward))
		}
	}
	if err := e.sink.Route(tokenAddr, sinkShare); err != nil {
		e.sink.Park(tokenAddr, sinkShare)
	}
	if len(esc.Pending) > 0 {
		if err := e.state.EscrowPut(esc); err != nil {
			return err
		}
	}
	e.emit(newSettledEvent(esc.ID, recipient, fee, payout))
	return nil
}

// RetryPayouts re-attempts the parked payout legs of a settled record. Owner
// only. Entries that clear are removed; any that fail again stay parked and
// the first failure is reported.
func (e *Engine) RetryPayouts(caller token.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return ErrNotFound
	}
	if len(esc.Pending) == 0 {
		return nil
	}
	tokenAddr, err := e.registry.At(esc.Token)
	if err != nil {
		return ErrUnknownToken
	}
	tok, ok := e.tokens.Token(tokenAddr)
	if !ok {
		return ErrUnknownToken
	}
	remaining := esc.Pending[:0]
	var firstErr error
	for _, pending := range esc.Pending {
		if err := tok.Transfer(e.vault, pending.Recipient, pending.Amount); err != nil {
			remaining = append(remaining, pending)
			if firstErr == nil {
				firstErr = mapTransferErr(err)
			}
		}
	}
	esc.Pending = remaining
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	return firstErr
}
