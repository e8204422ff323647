package lending

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/socious-io/socious-smart-contracts/core/events"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

type mockState struct {
	projects map[string]*Project
}

func newMockState() *mockState {
	return &mockState{projects: make(map[string]*Project)}
}

func (m *mockState) LendingProjectPut(p *Project) error {
	if p == nil {
		return fmt.Errorf("nil project")
	}
	m.projects[p.ID] = p.Clone()
	return nil
}

func (m *mockState) LendingProjectGet(id string) (*Project, bool) {
	p, ok := m.projects[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func testAddr(fill byte) token.Address {
	var addr token.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type harness struct {
	engine    *Engine
	ledger    *token.Ledger
	owner     token.Address
	vault     token.Address
	tokenAddr token.Address
	lender    token.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ledger:    token.NewLedger(),
		owner:     testAddr(0x01),
		vault:     testAddr(0xEE),
		tokenAddr: testAddr(0xA1),
		lender:    testAddr(0x10),
	}
	book := token.NewBook()
	book.Bind(h.tokenAddr, h.ledger)
	registry := token.NewRegistry(h.owner)
	if err := registry.Add(h.owner, h.tokenAddr); err != nil {
		t.Fatalf("register token: %v", err)
	}
	h.engine = NewEngine(h.owner, h.vault, registry, book)
	h.engine.SetState(newMockState())
	return h
}

func (h *harness) fund(t *testing.T, account token.Address, amount int64) {
	t.Helper()
	if err := h.ledger.Mint(account, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.ledger.Approve(account, h.vault, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestCreateProjectValidations(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.CreateProject(h.lender, "p1", big.NewInt(1000), h.tokenAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := h.engine.CreateProject(h.owner, "p1", big.NewInt(1000), testAddr(0xFF)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if _, err := h.engine.CreateProject(h.owner, "p1", big.NewInt(0), h.tokenAddr); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := h.engine.CreateProject(h.owner, "p1", big.NewInt(1000), h.tokenAddr); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.CreateProject(h.owner, "p1", big.NewInt(500), h.tokenAddr); !errors.Is(err, ErrDuplicateProject) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestLendAndBorrowRoundTrip(t *testing.T) {
	h := newHarness(t)
	collector := &events.Collector{}
	h.engine.SetEmitter(collector)

	if _, err := h.engine.CreateProject(h.owner, "p1", big.NewInt(1000), h.tokenAddr); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.fund(t, h.lender, 1000)

	if err := h.engine.Lend(h.lender, "p1", big.NewInt(1500)); !errors.Is(err, ErrTargetExceeded) {
		t.Fatalf("expected target exceeded, got %v", err)
	}
	if err := h.engine.Lend(h.lender, "p1", big.NewInt(1000)); err != nil {
		t.Fatalf("lend: %v", err)
	}
	if got := h.ledger.BalanceOf(h.vault).String(); got != "1000" {
		t.Fatalf("expected vault 1000, got %s", got)
	}

	if err := h.engine.Borrow(h.lender, "p1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized borrow, got %v", err)
	}
	if err := h.engine.Borrow(h.owner, "p1"); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := h.ledger.BalanceOf(h.owner).String(); got != "1000" {
		t.Fatalf("expected owner 1000, got %s", got)
	}
	if err := h.engine.Borrow(h.owner, "p1"); !errors.Is(err, ErrAlreadyBorrowed) {
		t.Fatalf("expected already borrowed, got %v", err)
	}
	if err := h.engine.Lend(h.lender, "p1", big.NewInt(1)); !errors.Is(err, ErrAlreadyBorrowed) {
		t.Fatalf("lending into a borrowed pool must fail, got %v", err)
	}

	var seen []string
	for _, evt := range collector.Events() {
		seen = append(seen, evt.EventType())
	}
	want := []string{EventTypeProjectCreated, EventTypeLoaned, EventTypeBorrowed}
	if len(seen) != len(want) {
		t.Fatalf("expected events %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, seen)
		}
	}
}

func TestAmortizationSchedule(t *testing.T) {
	h := newHarness(t)
	h.engine.SetSchedule(4, 500) // 5% interest over 4 rounds
	project, err := h.engine.CreateProject(h.owner, "p1", big.NewInt(1000), h.tokenAddr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.fund(t, h.lender, 1000)
	if err := h.engine.Lend(h.lender, "p1", big.NewInt(1000)); err != nil {
		t.Fatalf("lend: %v", err)
	}
	project, err = h.engine.Get("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := project.TotalDue().String(); got != "1050" {
		t.Fatalf("expected total due 1050, got %s", got)
	}
	schedule := project.Schedule()
	if len(schedule) != 4 {
		t.Fatalf("expected 4 installments, got %d", len(schedule))
	}
	sum := big.NewInt(0)
	for _, inst := range schedule {
		sum.Add(sum, inst.Amount)
	}
	if sum.String() != "1050" {
		t.Fatalf("schedule must sum to the obligation, got %s", sum)
	}
	// 1050 / 4 truncates to 262; the remainder lands in the final round.
	if schedule[0].Amount.String() != "262" || schedule[3].Amount.String() != "264" {
		t.Fatalf("unexpected installment split: %v", schedule)
	}
}

func TestRepayAndRedeemProRata(t *testing.T) {
	h := newHarness(t)
	h.engine.SetSchedule(2, 0)
	other := testAddr(0x11)

	if _, err := h.engine.CreateProject(h.owner, "p1", big.NewInt(1000), h.tokenAddr); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.fund(t, h.lender, 750)
	h.fund(t, other, 250)
	if err := h.engine.Lend(h.lender, "p1", big.NewInt(750)); err != nil {
		t.Fatalf("lend: %v", err)
	}
	if err := h.engine.Lend(other, "p1", big.NewInt(250)); err != nil {
		t.Fatalf("lend other: %v", err)
	}

	if err := h.engine.Repay(h.owner, "p1", big.NewInt(500)); !errors.Is(err, ErrNotBorrowed) {
		t.Fatalf("repay before borrow must fail, got %v", err)
	}
	if err := h.engine.Borrow(h.owner, "p1"); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// First installment.
	if err := h.ledger.Approve(h.owner, h.vault, big.NewInt(1000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := h.engine.Repay(h.owner, "p1", big.NewInt(500)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	claim, err := h.engine.Redeem(h.lender, "p1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if claim.String() != "375" {
		t.Fatalf("expected pro-rata claim 375, got %s", claim)
	}
	if _, err := h.engine.Redeem(h.lender, "p1"); !errors.Is(err, ErrNothingToRedeem) {
		t.Fatalf("double redeem must fail, got %v", err)
	}

	// Second installment settles the debt; over-repayment is rejected.
	if err := h.engine.Repay(h.owner, "p1", big.NewInt(600)); !errors.Is(err, ErrOverRepayment) {
		t.Fatalf("expected over repayment, got %v", err)
	}
	if err := h.engine.Repay(h.owner, "p1", big.NewInt(500)); err != nil {
		t.Fatalf("final repay: %v", err)
	}
	claim, err = h.engine.Redeem(h.lender, "p1")
	if err != nil {
		t.Fatalf("final redeem: %v", err)
	}
	if claim.String() != "375" {
		t.Fatalf("expected second claim 375, got %s", claim)
	}
	claim, err = h.engine.Redeem(other, "p1")
	if err != nil {
		t.Fatalf("other redeem: %v", err)
	}
	if claim.String() != "250" {
		t.Fatalf("expected other claim 250, got %s", claim)
	}
	// Value conserved: both lenders recovered exactly their principal.
	if got := h.ledger.BalanceOf(h.lender).String(); got != "750" {
		t.Fatalf("lender ends with %s, expected 750", got)
	}
	if got := h.ledger.BalanceOf(other).String(); got != "250" {
		t.Fatalf("other ends with %s, expected 250", got)
	}
	if got := h.ledger.BalanceOf(h.vault).String(); got != "0" {
		t.Fatalf("vault should be empty, got %s", got)
	}
}

func TestRedeemWithoutStake(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.CreateProject(h.owner, "p1", big.NewInt(100), h.tokenAddr); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.Redeem(testAddr(0x99), "p1"); !errors.Is(err, ErrNothingToRedeem) {
		t.Fatalf("expected nothing to redeem, got %v", err)
	}
	if _, err := h.engine.Redeem(testAddr(0x99), "missing"); !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("expected unknown project, got %v", err)
	}
}
