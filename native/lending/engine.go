package lending

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/socious-io/socious-smart-contracts/core/events"
	"github.com/socious-io/socious-smart-contracts/core/types"
	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/common"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

const moduleName = "lending"

const (
	EventTypeProjectCreated = "lending.project_created"
	EventTypeLoaned         = "lending.loaned"
	EventTypeBorrowed       = "lending.borrowed"
	EventTypeRepaid         = "lending.repaid"
	EventTypeRedeemed       = "lending.redeemed"
)

var (
	ErrNilState         = errors.New("lending: state not configured")
	ErrUnauthorized     = errors.New("lending: unauthorized caller")
	ErrInvalidAmount    = errors.New("lending: amount must be positive")
	ErrUnknownToken     = errors.New("lending: token not registered")
	ErrUnknownProject   = errors.New("lending: project not found")
	ErrDuplicateProject = errors.New("lending: project already exists")
	ErrTargetExceeded   = errors.New("lending: amount exceeds funding target")
	ErrAlreadyBorrowed  = errors.New("lending: project already borrowed")
	ErrNotBorrowed      = errors.New("lending: project not borrowed yet")
	ErrOverRepayment    = errors.New("lending: repayment exceeds outstanding debt")
	ErrNothingToRedeem  = errors.New("lending: nothing to redeem")
	ErrTransferFailed   = errors.New("lending: token transfer failed")
)

type engineState interface {
	LendingProjectPut(*Project) error
	LendingProjectGet(id string) (*Project, bool)
}

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

// Engine runs the pooled-capital lending sibling: project pools are funded by
// lenders, drawn down by the owner and repaid in amortized installments which
// lenders redeem pro-rata. It shares the registry, token source and vault
// conventions of the escrow engine.
type Engine struct {
	mu          sync.Mutex
	state       engineState
	owner       token.Address
	vault       token.Address
	registry    *token.Registry
	tokens      token.Source
	emitter     events.Emitter
	pauses      common.PauseView
	rounds      uint32
	interestBps uint32
}

// NewEngine creates a lending engine with a single-installment, interest-free
// schedule. SetSchedule configures amortization.
func NewEngine(owner, vault token.Address, registry *token.Registry, tokens token.Source) *Engine {
	return &Engine{
		owner:    owner,
		vault:    vault,
		registry: registry,
		tokens:   tokens,
		emitter:  events.NoopEmitter{},
		rounds:   1,
	}
}

// SetState configures the project store used by the engine.
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

// SetSchedule configures the amortization applied to projects created from
// now on: the repayment obligation is principal plus interestBps, split over
// rounds installments. Zero rounds is treated as one.
func (e *Engine) SetSchedule(rounds, interestBps uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rounds == 0 {
		rounds = 1
	}
	e.rounds = rounds
	e.interestBps = interestBps
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: evt})
}

func mapTransferErr(err error) error {
	if errors.Is(err, token.ErrInsufficientAllowance) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

func (e *Engine) resolveToken(index uint32) (token.Token, token.Address, error) {
	addr, err := e.registry.At(index)
	if err != nil {
		return nil, token.Address{}, ErrUnknownToken
	}
	tok, ok := e.tokens.Token(addr)
	if !ok {
		return nil, token.Address{}, ErrUnknownToken
	}
	return tok, addr, nil
}

// CreateProject opens a funding pool for a project. Owner only.
func (e *Engine) CreateProject(caller token.Address, id string, target *big.Int, tokenAddr token.Address) (*Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	if caller != e.owner {
		return nil, ErrUnauthorized
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, ErrUnknownProject
	}
	if _, ok := e.state.LendingProjectGet(trimmed); ok {
		return nil, ErrDuplicateProject
	}
	tokenIndex, err := e.registry.IndexOf(tokenAddr)
	if err != nil {
		return nil, ErrUnknownToken
	}
	if target == nil || target.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	project := &Project{
		ID:          trimmed,
		Target:      new(big.Int).Set(target),
		Token:       tokenIndex,
		Raised:      big.NewInt(0),
		Repaid:      big.NewInt(0),
		Rounds:      e.rounds,
		InterestBps: e.interestBps,
	}
	if err := e.state.LendingProjectPut(project); err != nil {
		return nil, err
	}
	e.emit(&types.Event{
		Type: EventTypeProjectCreated,
		Attributes: map[string]string{
			"projectId": project.ID,
			"owner":     crypto.FormatAddress(caller),
			"amount":    project.Target.String(),
			"token":     crypto.FormatAddress(tokenAddr),
		},
	})
	return project.Clone(), nil
}

// Get returns a copy of the project with the given id.
func (e *Engine) Get(id string) (*Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	project, ok := e.state.LendingProjectGet(strings.TrimSpace(id))
	if !ok {
		return nil, ErrUnknownProject
	}
	return project.Clone(), nil
}

// Lend pulls the amount from the caller into the pool. The pool never raises
// past its target and closes to new lending once borrowed.
func (e *Engine) Lend(caller token.Address, id string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	project, ok := e.state.LendingProjectGet(strings.TrimSpace(id))
	if !ok {
		return ErrUnknownProject
	}
	if project.Borrowed {
		return ErrAlreadyBorrowed
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	headroom := new(big.Int).Sub(project.Target, project.Raised)
	if amount.Cmp(headroom) > 0 {
		return ErrTargetExceeded
	}
	tok, _, err := e.resolveToken(project.Token)
	if err != nil {
		return err
	}
	if err := tok.TransferFrom(e.vault, caller, e.vault, amount); err != nil {
		return mapTransferErr(err)
	}
	project.Raised.Add(project.Raised, amount)
	merged := false
	for i := range project.Stakes {
		if project.Stakes[i].Lender == caller {
			project.Stakes[i].Amount.Add(project.Stakes[i].Amount, amount)
			merged = true
			break
		}
	}
	if !merged {
		project.Stakes = append(project.Stakes, Stake{
			Lender:   caller,
			Amount:   new(big.Int).Set(amount),
			Redeemed: big.NewInt(0),
		})
	}
	if err := e.state.LendingProjectPut(project); err != nil {
		return err
	}
	e.emit(&types.Event{
		Type: EventTypeLoaned,
		Attributes: map[string]string{
			"amount":    amount.String(),
			"projectId": project.ID,
			"lender":    crypto.FormatAddress(caller),
		},
	})
	return nil
}

// Borrow releases the raised balance to the owner and closes the pool.
// Single-shot.
func (e *Engine) Borrow(caller token.Address, id string) error {
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
	project, ok := e.state.LendingProjectGet(strings.TrimSpace(id))
	if !ok {
		return ErrUnknownProject
	}
	if project.Borrowed {
		return ErrAlreadyBorrowed
	}
	if project.Raised.Sign() == 0 {
		return ErrInvalidAmount
	}
	tok, _, err := e.resolveToken(project.Token)
	if err != nil {
		return err
	}
	// Close the pool before the outbound transfer so a reentrant borrow is
	// rejected.
	project.Borrowed = true
	if err := e.state.LendingProjectPut(project); err != nil {
		return err
	}
	if err := tok.Transfer(e.vault, caller, project.Raised); err != nil {
		project.Borrowed = false
		_ = e.state.LendingProjectPut(project)
		return mapTransferErr(err)
	}
	e.emit(&types.Event{
		Type: EventTypeBorrowed,
		Attributes: map[string]string{
			"projectId": project.ID,
			"borrower":  crypto.FormatAddress(caller),
			"amount":    project.Raised.String(),
		},
	})
	return nil
}

// Repay accepts an installment from the borrower, capped at the outstanding
// obligation.
func (e *Engine) Repay(caller token.Address, id string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	project, ok := e.state.LendingProjectGet(strings.TrimSpace(id))
	if !ok {
		return ErrUnknownProject
	}
	if !project.Borrowed {
		return ErrNotBorrowed
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	outstanding := new(big.Int).Sub(project.TotalDue(), project.Repaid)
	if amount.Cmp(outstanding) > 0 {
		return ErrOverRepayment
	}
	tok, _, err := e.resolveToken(project.Token)
	if err != nil {
		return err
	}
	if err := tok.TransferFrom(e.vault, caller, e.vault, amount); err != nil {
		return mapTransferErr(err)
	}
	project.Repaid.Add(project.Repaid, amount)
	if err := e.state.LendingProjectPut(project); err != nil {
		return err
	}
	e.emit(&types.Event{
		Type: EventTypeRepaid,
		Attributes: map[string]string{
			"projectId": project.ID,
			"payer":     crypto.FormatAddress(caller),
			"amount":    amount.String(),
			"repaid":    project.Repaid.String(),
			"due":       project.TotalDue().String(),
		},
	})
	return nil
}

// Redeem pays the caller their pro-rata share of the repayments received so
// far, net of what they already redeemed.
func (e *Engine) Redeem(caller token.Address, id string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	project, ok := e.state.LendingProjectGet(strings.TrimSpace(id))
	if !ok {
		return nil, ErrUnknownProject
	}
	var stake *Stake
	for i := range project.Stakes {
		if project.Stakes[i].Lender == caller {
			stake = &project.Stakes[i]
			break
		}
	}
	if stake == nil || project.Raised.Sign() == 0 {
		return nil, ErrNothingToRedeem
	}
	entitled := new(big.Int).Mul(project.Repaid, stake.Amount)
	entitled.Div(entitled, project.Raised)
	claim := new(big.Int).Sub(entitled, stake.Redeemed)
	if claim.Sign() <= 0 {
		return nil, ErrNothingToRedeem
	}
	tok, _, err := e.resolveToken(project.Token)
	if err != nil {
		return nil, err
	}
	// Record the redemption before the outbound transfer; restore on failure.
	stake.Redeemed.Add(stake.Redeemed, claim)
	if err := e.state.LendingProjectPut(project); err != nil {
		return nil, err
	}
	if err := tok.Transfer(e.vault, caller, claim); err != nil {
		stake.Redeemed.Sub(stake.Redeemed, claim)
		_ = e.state.LendingProjectPut(project)
		return nil, mapTransferErr(err)
	}
	e.emit(&types.Event{
		Type: EventTypeRedeemed,
		Attributes: map[string]string{
			"projectId": project.ID,
			"lender":    crypto.FormatAddress(caller),
			"amount":    claim.String(),
		},
	})
	return claim, nil
}
