package token

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
)

// Address is a raw 20-byte token or account address.
type Address = [20]byte

// Token is the external fungible-token interface consumed by the custody
// engines. Caller identity is explicit on every mutating call: the engines
// have no ambient notion of a transaction sender.
type Token interface {
	BalanceOf(account Address) *big.Int
	// Transfer moves amount from the caller's balance to the recipient.
	Transfer(caller, to Address, amount *big.Int) error
	// TransferFrom moves amount from the owner's balance to the recipient,
	// consuming the caller's allowance.
	TransferFrom(caller, from, to Address, amount *big.Int) error
	// Approve sets the caller's allowance for the spender.
	Approve(caller, spender Address, amount *big.Int) error
	Allowance(owner, spender Address) *big.Int
	// Mint credits the recipient. Test-double and genesis use only.
	Mint(to Address, amount *big.Int) error
}

// Source resolves a registered token address to its Token binding.
type Source interface {
	Token(addr Address) (Token, bool)
}

// Ledger is an in-memory Token implementation with allowance semantics. It
// doubles for the external ERC-20 style contract in tests and backs the dev
// daemon's genesis tokens.
type Ledger struct {
	mu         sync.Mutex
	balances   map[Address]*big.Int
	allowances map[Address]map[Address]*big.Int
}

// NewLedger returns an empty token ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[Address]*big.Int),
		allowances: make(map[Address]map[Address]*big.Int),
	}
}

func (l *Ledger) balance(account Address) *big.Int {
	bal, ok := l.balances[account]
	if !ok {
		bal = big.NewInt(0)
		l.balances[account] = bal
	}
	return bal
}

// BalanceOf reports the current balance of the account.
func (l *Ledger) BalanceOf(account Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(account))
}

func (l *Ledger) move(from, to Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal := l.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromBal.Sub(fromBal, amount)
	toBal := l.balance(to)
	toBal.Add(toBal, amount)
	return nil
}

// Transfer moves amount from the caller to the recipient.
func (l *Ledger) Transfer(caller, to Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(caller, to, amount)
}

// TransferFrom moves amount from the owner to the recipient, consuming the
// caller's allowance. The allowance check runs before the balance check so a
// caller learns nothing about balances it was not approved for.
func (l *Ledger) TransferFrom(caller, from, to Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if caller != from {
		allowance := l.allowanceLocked(from, caller)
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		if err := l.move(from, to, amount); err != nil {
			return err
		}
		allowance.Sub(allowance, amount)
		return nil
	}
	return l.move(from, to, amount)
}

func (l *Ledger) allowanceLocked(owner, spender Address) *big.Int {
	spenders, ok := l.allowances[owner]
	if !ok {
		spenders = make(map[Address]*big.Int)
		l.allowances[owner] = spenders
	}
	allowance, ok := spenders[spender]
	if !ok {
		allowance = big.NewInt(0)
		spenders[spender] = allowance
	}
	return allowance
}

// Approve sets the caller's allowance for the spender, replacing any previous
// value.
func (l *Ledger) Approve(caller, spender Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowanceLocked(caller, spender).Set(amount)
	return nil
}

// Allowance reports the remaining allowance the owner granted the spender.
func (l *Ledger) Allowance(owner, spender Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowanceLocked(owner, spender))
}

// Mint credits the recipient's balance.
func (l *Ledger) Mint(to Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(to).Add(l.balance(to), amount)
	return nil
}

// Book maps token addresses to their bindings and implements Source. The
// daemon fills it from genesis; tests fill it with fresh ledgers.
type Book struct {
	mu     sync.Mutex
	tokens map[Address]Token
}

// NewBook returns an empty token book.
func NewBook() *Book {
	return &Book{tokens: make(map[Address]Token)}
}

// Bind associates the address with a token implementation, replacing any
// previous binding.
func (b *Book) Bind(addr Address, tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[addr] = tok
}

// Token implements the Source interface.
func (b *Book) Token(addr Address) (Token, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tok, ok := b.tokens[addr]
	return tok, ok
}
