package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/socious-io/socious-smart-contracts/core/events"
	"github.com/socious-io/socious-smart-contracts/core/types"
	"github.com/socious-io/socious-smart-contracts/native/common"
	"github.com/socious-io/socious-smart-contracts/native/income"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

type mockState struct {
	escrows map[uint64]*Escrow
	next    uint64
}

func newMockState() *mockState {
	return &mockState{escrows: make(map[uint64]*Escrow)}
}

func (m *mockState) EscrowPut(e *Escrow) error {
	if e == nil {
		return fmt.Errorf("nil escrow")
	}
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *mockState) EscrowGet(id uint64) (*Escrow, bool) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) EscrowNextID() (uint64, error) {
	m.next++
	return m.next, nil
}

func newTestAddress(fill byte) token.Address {
	var addr token.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type harness struct {
	engine    *Engine
	state     *mockState
	ledger    *token.Ledger
	registry  *token.Registry
	sink      *income.Sink
	collector *events.Collector

	owner       token.Address
	vault       token.Address
	beneficiary token.Address
	tokenAddr   token.Address
	org         token.Address
	contributor token.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:       newMockState(),
		ledger:      token.NewLedger(),
		collector:   &events.Collector{},
		owner:       newTestAddress(0x01),
		vault:       newTestAddress(0xEE),
		beneficiary: newTestAddress(0xBE),
		tokenAddr:   newTestAddress(0xA1),
		org:         newTestAddress(0x10),
		contributor: newTestAddress(0x20),
	}
	book := token.NewBook()
	book.Bind(h.tokenAddr, h.ledger)
	h.registry = token.NewRegistry(h.owner)
	if err := h.registry.Add(h.owner, h.tokenAddr); err != nil {
		t.Fatalf("register token: %v", err)
	}
	h.sink = income.New(h.owner, h.vault, book)
	if err := h.sink.SetBeneficiary(h.owner, h.beneficiary); err != nil {
		t.Fatalf("set beneficiary: %v", err)
	}
	h.engine = NewEngine(h.owner, h.vault, h.registry, book, h.sink)
	h.engine.SetState(h.state)
	h.engine.SetEmitter(h.collector)
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

func (h *harness) create(t *testing.T, p CreateParams) *Escrow {
	t.Helper()
	esc, err := h.engine.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return esc
}

func (h *harness) balance(account token.Address) string {
	return h.ledger.BalanceOf(account).String()
}

func settledEvents(c *events.Collector) []*types.Event {
	var out []*types.Event
	for _, evt := range c.Events() {
		carrier, ok := evt.(interface{ Event() *types.Event })
		if !ok {
			continue
		}
		if e := carrier.Event(); e != nil && e.Type == EventTypeSettled {
			out = append(out, e)
		}
	}
	return out
}

func TestCreateValidations(t *testing.T) {
	h := newHarness(t)
	base := CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		JobReference: "job-1",
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	}

	unknown := base
	unknown.Token = newTestAddress(0xFF)
	if _, err := h.engine.Create(unknown); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}

	zero := base
	zero.Principal = big.NewInt(0)
	if _, err := h.engine.Create(zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	negative := base
	negative.Principal = big.NewInt(-5)
	if _, err := h.engine.Create(negative); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	// No allowance granted yet.
	if err := h.ledger.Mint(h.org, big.NewInt(103)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := h.engine.Create(base); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}

	// Allowance present but balance short.
	if err := h.ledger.Approve(h.org, h.vault, big.NewInt(1_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	oversized := base
	oversized.Principal = big.NewInt(200)
	if _, err := h.engine.Create(oversized); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
}

func TestDepositDebitsPrincipalPlusFee(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		JobReference: "job-1",
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})

	if esc.ID != 1 {
		t.Fatalf("expected first id 1, got %d", esc.ID)
	}
	if esc.Status != StatusOpen {
		t.Fatalf("expected open, got %v", esc.Status)
	}
	if got := h.balance(h.org); got != "0" {
		t.Fatalf("expected organization debited 103, remaining %s", got)
	}
	if got := h.balance(h.vault); got != "100" {
		t.Fatalf("expected vault to custody 100, got %s", got)
	}
	if got := h.balance(h.beneficiary); got != "3" {
		t.Fatalf("expected sink forwarded 3, got %s", got)
	}

	var created *types.Event
	for _, evt := range h.collector.Events() {
		carrier, ok := evt.(interface{ Event() *types.Event })
		if ok && carrier.Event().Type == EventTypeCreated {
			created = carrier.Event()
		}
	}
	if created == nil {
		t.Fatalf("expected creation event")
	}
	if created.Attributes["id"] != "1" || created.Attributes["depositFee"] != "3" ||
		created.Attributes["principal"] != "100" || created.Attributes["jobReference"] != "job-1" {
		t.Fatalf("unexpected creation attributes: %v", created.Attributes)
	}
}

func TestWithdrawBaselineScenario(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		JobReference: "job-1",
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})

	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.balance(h.contributor); got != "90" {
		t.Fatalf("expected contributor 90, got %s", got)
	}
	// 3 deposit fee + 10 settlement fee.
	if got := h.balance(h.beneficiary); got != "13" {
		t.Fatalf("expected sink total 13, got %s", got)
	}
	if got := h.balance(h.vault); got != "0" {
		t.Fatalf("expected vault drained, got %s", got)
	}

	settled := settledEvents(h.collector)
	if len(settled) != 1 {
		t.Fatalf("expected one settlement event, got %d", len(settled))
	}
	attrs := settled[0].Attributes
	if attrs["fee"] != "10" || attrs["netAmount"] != "90" || attrs["id"] != "1" {
		t.Fatalf("unexpected settlement attributes: %v", attrs)
	}

	// Terminal guard: the second settlement attempt fails on either path and
	// moves no funds.
	if err := h.engine.Withdraw(h.contributor, esc.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}
	if err := h.engine.Decide(h.owner, esc.ID, true); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled decision, got %v", err)
	}
	if got := h.balance(h.contributor); got != "90" {
		t.Fatalf("double settlement moved funds: %s", got)
	}
	if len(settledEvents(h.collector)) != 1 {
		t.Fatalf("double settlement emitted extra events")
	}
}

func TestReferralMatrix(t *testing.T) {
	orgReferrer := newTestAddress(0x30)
	contReferrer := newTestAddress(0x31)

	cases := []struct {
		name            string
		orgReferred     bool
		contReferred    bool
		debit           int64
		wantContributor string
		wantOrgRef      string
		wantContRef     string
		wantSink        string
	}{
		{"no referrals", false, false, 1030, "900", "0", "0", "130"},
		{"organization only", true, false, 1015, "900", "9", "0", "106"},
		{"contributor only", false, true, 1030, "950", "0", "9", "71"},
		{"both", true, true, 1015, "950", "9", "9", "47"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.fund(t, h.org, tc.debit)
			esc := h.create(t, CreateParams{
				Organization:         h.org,
				Contributor:          h.contributor,
				JobReference:         "job-referral",
				Principal:            big.NewInt(1000),
				Token:                h.tokenAddr,
				OrganizationReferral: Referral{Referrer: orgReferrer, Applies: tc.orgReferred},
				ContributorReferral:  Referral{Referrer: contReferrer, Applies: tc.contReferred},
			})
			if got := h.balance(h.org); got != "0" {
				t.Fatalf("expected organization fully debited, remaining %s", got)
			}
			if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
				t.Fatalf("withdraw: %v", err)
			}
			if got := h.balance(h.contributor); got != tc.wantContributor {
				t.Fatalf("contributor: expected %s, got %s", tc.wantContributor, got)
			}
			if got := h.balance(orgReferrer); got != tc.wantOrgRef {
				t.Fatalf("organization referrer: expected %s, got %s", tc.wantOrgRef, got)
			}
			if got := h.balance(contReferrer); got != tc.wantContRef {
				t.Fatalf("contributor referrer: expected %s, got %s", tc.wantContRef, got)
			}
			if got := h.balance(h.beneficiary); got != tc.wantSink {
				t.Fatalf("sink: expected %s, got %s", tc.wantSink, got)
			}
		})
	}
}

func TestRecordedReferrerWithoutFlagIsInert(t *testing.T) {
	h := newHarness(t)
	referrer := newTestAddress(0x30)
	h.fund(t, h.org, 1030)
	esc := h.create(t, CreateParams{
		Organization:         h.org,
		Contributor:          h.contributor,
		Principal:            big.NewInt(1000),
		Token:                h.tokenAddr,
		OrganizationReferral: Referral{Referrer: referrer, Applies: false},
	})
	if got := h.balance(referrer); got != "0" {
		t.Fatalf("inert referral must not pay, got %s", got)
	}
	stored, err := h.engine.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.OrganizationReferral.Referrer != referrer {
		t.Fatalf("referrer address should still be recorded")
	}
}

func TestSetContributorLifecycle(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		JobReference: "deferred",
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})

	// Neither settlement path works before assignment.
	if err := h.engine.Withdraw(h.contributor, esc.ID); !errors.Is(err, ErrContributorUnset) {
		t.Fatalf("expected contributor unset, got %v", err)
	}
	if err := h.engine.Decide(h.owner, esc.ID, false); !errors.Is(err, ErrContributorUnset) {
		t.Fatalf("expected contributor unset on release decision, got %v", err)
	}

	stranger := newTestAddress(0x99)
	if err := h.engine.SetContributor(stranger, esc.ID, h.contributor, Referral{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.SetContributor(h.org, esc.ID, token.Address{}, Referral{}); !errors.Is(err, ErrInvalidContributor) {
		t.Fatalf("expected invalid contributor, got %v", err)
	}
	if err := h.engine.SetContributor(h.org, esc.ID, h.contributor, Referral{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := h.engine.SetContributor(h.org, esc.ID, stranger, Referral{}); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected already assigned, got %v", err)
	}

	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("withdraw after assignment: %v", err)
	}
	if err := h.engine.SetContributor(h.org, esc.ID, stranger, Referral{}); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}
}

func TestSetContributorReferralAppliesAtSettlement(t *testing.T) {
	h := newHarness(t)
	referrer := newTestAddress(0x31)
	h.fund(t, h.org, 1030)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Principal:    big.NewInt(1000),
		Token:        h.tokenAddr,
	})
	if err := h.engine.SetContributor(h.org, esc.ID, h.contributor, Referral{Referrer: referrer, Applies: true}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.balance(h.contributor); got != "950" {
		t.Fatalf("expected discounted payout 950, got %s", got)
	}
	if got := h.balance(referrer); got != "9" {
		t.Fatalf("expected referrer reward 9, got %s", got)
	}
}

func TestWithdrawRequiresContributorCaller(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})
	if err := h.engine.Withdraw(h.org, esc.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.Withdraw(h.contributor, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDecideRefundsOrganizationWithRetentionFee(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 1030)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(1000),
		Token:        h.tokenAddr,
	})

	if err := h.engine.Decide(h.org, esc.ID, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only the owner decides, got %v", err)
	}
	if err := h.engine.Decide(h.owner, esc.ID, true); err != nil {
		t.Fatalf("decide: %v", err)
	}
	// Retention fee is 1% of principal; refund is the remainder.
	if got := h.balance(h.org); got != "990" {
		t.Fatalf("expected refund 990, got %s", got)
	}
	if got := h.balance(h.contributor); got != "0" {
		t.Fatalf("contributor must receive nothing on refund, got %s", got)
	}
	// 30 deposit fee + 10 retention fee.
	if got := h.balance(h.beneficiary); got != "40" {
		t.Fatalf("expected sink 40, got %s", got)
	}

	settled := settledEvents(h.collector)
	if len(settled) != 1 {
		t.Fatalf("expected one settlement event, got %d", len(settled))
	}
	attrs := settled[0].Attributes
	if attrs["fee"] != "10" || attrs["netAmount"] != "990" {
		t.Fatalf("unexpected refund attributes: %v", attrs)
	}

	if err := h.engine.Withdraw(h.contributor, esc.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled withdrawal, got %v", err)
	}
}

func TestDecideRefundWorksWithoutContributor(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})
	if err := h.engine.Decide(h.owner, esc.ID, true); err != nil {
		t.Fatalf("refund decision with unset contributor: %v", err)
	}
	if got := h.balance(h.org); got != "99" {
		t.Fatalf("expected refund 99, got %s", got)
	}
}

func TestDecideReleaseMatchesWithdraw(t *testing.T) {
	h := newHarness(t)
	referrer := newTestAddress(0x31)
	h.fund(t, h.org, 1030)
	esc := h.create(t, CreateParams{
		Organization:        h.org,
		Contributor:         h.contributor,
		Principal:           big.NewInt(1000),
		Token:               h.tokenAddr,
		ContributorReferral: Referral{Referrer: referrer, Applies: true},
	})
	if err := h.engine.Decide(h.owner, esc.ID, false); err != nil {
		t.Fatalf("decide release: %v", err)
	}
	if got := h.balance(h.contributor); got != "950" {
		t.Fatalf("expected contributor 950, got %s", got)
	}
	if got := h.balance(referrer); got != "9" {
		t.Fatalf("expected referrer 9, got %s", got)
	}
	if err := h.engine.Decide(h.owner, esc.ID, true); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}
}

func TestTinyPrincipalRoundsFeesToZero(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 10)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(10),
		Token:        h.tokenAddr,
	})
	// Deposit fee truncates to zero: only the principal is pulled.
	if got := h.balance(h.org); got != "0" {
		t.Fatalf("expected organization debited exactly 10, remaining %s", got)
	}
	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.balance(h.contributor); got != "9" {
		t.Fatalf("expected contributor 9, got %s", got)
	}
	if got := h.balance(h.beneficiary); got != "1" {
		t.Fatalf("expected sink 1, got %s", got)
	}
}

func TestIDsAreSequentialAndNeverReused(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 4*103)
	var ids []uint64
	for i := 0; i < 3; i++ {
		esc := h.create(t, CreateParams{
			Organization: h.org,
			Contributor:  h.contributor,
			JobReference: fmt.Sprintf("job-%d", i),
			Principal:    big.NewInt(100),
			Token:        h.tokenAddr,
		})
		ids = append(ids, esc.ID)
	}
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("expected sequential ids, got %v", ids)
	}
	// Settling one escrow must not free its id.
	if err := h.engine.Withdraw(h.contributor, ids[0]); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})
	if esc.ID != 4 {
		t.Fatalf("expected id 4, got %d", esc.ID)
	}
}

func TestCustodyCoversOpenPrincipal(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 103+1030)
	first := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})
	h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(1000),
		Token:        h.tokenAddr,
	})
	// Vault holds at least the sum of open principals.
	if got := h.ledger.BalanceOf(h.vault); got.Cmp(big.NewInt(1100)) < 0 {
		t.Fatalf("custody invariant broken: vault %s < 1100", got)
	}
	if err := h.engine.Withdraw(h.contributor, first.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.ledger.BalanceOf(h.vault); got.Cmp(big.NewInt(1000)) < 0 {
		t.Fatalf("custody invariant broken after settlement: vault %s < 1000", got)
	}
}

func TestFailedPayoutRevertsToOpen(t *testing.T) {
	h := newHarness(t)
	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})
	// Corrupt the custody balance so the payout fails.
	if err := h.ledger.Transfer(h.vault, newTestAddress(0x99), big.NewInt(100)); err != nil {
		t.Fatalf("drain vault: %v", err)
	}
	if err := h.engine.Withdraw(h.contributor, esc.ID); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	stored, err := h.engine.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusOpen {
		t.Fatalf("failed settlement must leave the record open, got %v", stored.Status)
	}
	// Restore custody and retry.
	if err := h.ledger.Transfer(newTestAddress(0x99), h.vault, big.NewInt(100)); err != nil {
		t.Fatalf("restore vault: %v", err)
	}
	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("retry withdraw: %v", err)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	h := newHarness(t)
	pauses := common.NewPauses(h.owner)
	h.engine.SetPauses(pauses)
	if err := pauses.SetPaused(h.owner, moduleName, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	h.fund(t, h.org, 103)
	if _, err := h.engine.Create(CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	}); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if err := pauses.SetPaused(h.owner, moduleName, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := h.engine.Create(CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	}); err != nil {
		t.Fatalf("create after unpause: %v", err)
	}
}

func TestLegacyAccumulatingSinkSweep(t *testing.T) {
	// Reproduces the legacy integration flow: fees accrue in the vault and
	// the owner sweeps them in a separate step.
	h := newHarness(t)
	book := token.NewBook()
	book.Bind(h.tokenAddr, h.ledger)
	h.sink = income.NewAccumulating(h.owner, h.vault, book)
	h.engine = NewEngine(h.owner, h.vault, h.registry, book, h.sink)
	h.engine.SetState(newMockState())

	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})
	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.sink.Collect(h.tokenAddr).String(); got != "13" {
		t.Fatalf("expected retained 13, got %s", got)
	}
	if err := h.sink.TransferAssets(h.owner, h.owner, h.tokenAddr); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := h.balance(h.owner); got != "13" {
		t.Fatalf("expected owner 13 after sweep, got %s", got)
	}
}

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t)
	newOwner := newTestAddress(0x55)
	if err := h.engine.TransferOwnership(newOwner, newOwner); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.TransferOwnership(h.owner, newOwner); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})
	if err := h.engine.Decide(h.owner, esc.ID, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old owner should be locked out, got %v", err)
	}
	if err := h.engine.Decide(newOwner, esc.ID, true); err != nil {
		t.Fatalf("new owner decision: %v", err)
	}
}

// refusingToken wraps the in-memory ledger and rejects outbound transfers to a
// configurable set of recipients, standing in for an external token contract
// that reverts on certain accounts.
type refusingToken struct {
	*token.Ledger
	refuse map[token.Address]bool
}

func (r *refusingToken) Transfer(caller, to token.Address, amount *big.Int) error {
	if r.refuse[to] {
		return fmt.Errorf("recipient refused transfer")
	}
	return r.Ledger.Transfer(caller, to, amount)
}

func newRefusingHarness(t *testing.T) (*harness, *refusingToken) {
	t.Helper()
	h := &harness{
		state:       newMockState(),
		ledger:      token.NewLedger(),
		collector:   &events.Collector{},
		owner:       newTestAddress(0x01),
		vault:       newTestAddress(0xEE),
		beneficiary: newTestAddress(0xBE),
		tokenAddr:   newTestAddress(0xA1),
		org:         newTestAddress(0x10),
		contributor: newTestAddress(0x20),
	}
	rt := &refusingToken{Ledger: h.ledger, refuse: make(map[token.Address]bool)}
	book := token.NewBook()
	book.Bind(h.tokenAddr, rt)
	h.registry = token.NewRegistry(h.owner)
	if err := h.registry.Add(h.owner, h.tokenAddr); err != nil {
		t.Fatalf("register token: %v", err)
	}
	h.sink = income.New(h.owner, h.vault, book)
	if err := h.sink.SetBeneficiary(h.owner, h.beneficiary); err != nil {
		t.Fatalf("set beneficiary: %v", err)
	}
	h.engine = NewEngine(h.owner, h.vault, h.registry, book, h.sink)
	h.engine.SetState(h.state)
	h.engine.SetEmitter(h.collector)
	return h, rt
}

func parkedEvents(c *events.Collector) []*types.Event {
	var out []*types.Event
	for _, evt := range c.Events() {
		carrier, ok := evt.(interface{ Event() *types.Event })
		if !ok {
			continue
		}
		if e := carrier.Event(); e != nil && e.Type == EventTypePayoutParked {
			out = append(out, e)
		}
	}
	return out
}

func TestSettlementRewardFailureParksForRetry(t *testing.T) {
	h, rt := newRefusingHarness(t)
	referrer := newTestAddress(0x31)
	rt.refuse[referrer] = true

	h.fund(t, h.org, 1030)
	esc := h.create(t, CreateParams{
		Organization:        h.org,
		Contributor:         h.contributor,
		Principal:           big.NewInt(1000),
		Token:               h.tokenAddr,
		ContributorReferral: Referral{Referrer: referrer, Applies: true},
	})

	// The payout leg clears, so the settlement succeeds and the reward is
	// parked on the record instead of unwinding the payout.
	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.balance(h.contributor); got != "950" {
		t.Fatalf("expected contributor 950, got %s", got)
	}
	if got := h.balance(referrer); got != "0" {
		t.Fatalf("refused referrer must hold nothing, got %s", got)
	}
	stored, err := h.engine.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusSettled {
		t.Fatalf("record must stay settled, got %v", stored.Status)
	}
	if len(stored.Pending) != 1 || stored.Pending[0].Amount.String() != "9" ||
		stored.Pending[0].Recipient != referrer {
		t.Fatalf("expected parked reward of 9 for the referrer, got %+v", stored.Pending)
	}
	if parked := parkedEvents(h.collector); len(parked) != 1 {
		t.Fatalf("expected one parked event, got %d", len(parked))
	}
	// The vault still holds exactly the parked amount for this record.
	if got := h.balance(h.vault); got != "9" {
		t.Fatalf("expected vault to hold the parked 9, got %s", got)
	}

	// A second settlement attempt must not pay the contributor again.
	if err := h.engine.Withdraw(h.contributor, esc.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}
	if got := h.balance(h.contributor); got != "950" {
		t.Fatalf("second attempt moved funds: %s", got)
	}

	if err := h.engine.RetryPayouts(h.contributor, esc.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized retry, got %v", err)
	}
	if err := h.engine.RetryPayouts(h.owner, esc.ID); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("retry against a still-refusing recipient must fail, got %v", err)
	}

	delete(rt.refuse, referrer)
	if err := h.engine.RetryPayouts(h.owner, esc.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := h.balance(referrer); got != "9" {
		t.Fatalf("expected referrer 9 after retry, got %s", got)
	}
	if got := h.balance(h.vault); got != "0" {
		t.Fatalf("expected vault drained, got %s", got)
	}
	stored, err = h.engine.Get(esc.ID)
	if err != nil {
		t.Fatalf("get after retry: %v", err)
	}
	if len(stored.Pending) != 0 {
		t.Fatalf("cleared payouts must leave the queue, got %+v", stored.Pending)
	}
	// Retrying an empty queue is a no-op.
	if err := h.engine.RetryPayouts(h.owner, esc.ID); err != nil {
		t.Fatalf("idempotent retry: %v", err)
	}
}

func TestSettlementSinkFailureAccruesRetained(t *testing.T) {
	h, rt := newRefusingHarness(t)
	rt.refuse[h.beneficiary] = true

	h.fund(t, h.org, 103)
	esc := h.create(t, CreateParams{
		Organization: h.org,
		Contributor:  h.contributor,
		Principal:    big.NewInt(100),
		Token:        h.tokenAddr,
	})
	// The deposit fee could not be forwarded; it accrues in the vault.
	if got := h.sink.Collect(h.tokenAddr).String(); got != "3" {
		t.Fatalf("expected retained 3 after deposit, got %s", got)
	}

	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.balance(h.contributor); got != "90" {
		t.Fatalf("expected contributor 90, got %s", got)
	}
	stored, err := h.engine.Get(esc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusSettled {
		t.Fatalf("record must stay settled, got %v", stored.Status)
	}
	if got := h.sink.Collect(h.tokenAddr).String(); got != "13" {
		t.Fatalf("expected retained 13 after settlement, got %s", got)
	}
	if got := h.balance(h.vault); got != "13" {
		t.Fatalf("expected vault to hold the retained fees, got %s", got)
	}

	// Owner sweeps once the beneficiary accepts transfers again.
	delete(rt.refuse, h.beneficiary)
	if err := h.sink.TransferAssets(h.owner, h.beneficiary, h.tokenAddr); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := h.balance(h.beneficiary); got != "13" {
		t.Fatalf("expected beneficiary 13 after sweep, got %s", got)
	}
	if got := h.sink.Collect(h.tokenAddr).String(); got != "0" {
		t.Fatalf("expected retained cleared, got %s", got)
	}
}

func TestCreateRewardFailureParksForRetry(t *testing.T) {
	h, rt := newRefusingHarness(t)
	referrer := newTestAddress(0x30)
	rt.refuse[referrer] = true

	h.fund(t, h.org, 1015)
	esc := h.create(t, CreateParams{
		Organization:         h.org,
		Contributor:          h.contributor,
		Principal:            big.NewInt(1000),
		Token:                h.tokenAddr,
		OrganizationReferral: Referral{Referrer: referrer, Applies: true},
	})
	// The deposit stands: principal stays in custody and the reward is parked
	// rather than refunding the organization.
	if got := h.balance(h.org); got != "0" {
		t.Fatalf("expected organization fully debited, remaining %s", got)
	}
	if got := h.balance(h.beneficiary); got != "6" {
		t.Fatalf("expected sink share 6 forwarded, got %s", got)
	}
	if got := h.balance(h.vault); got != "1009" {
		t.Fatalf("expected vault 1009 (principal plus parked reward), got %s", got)
	}
	if len(esc.Pending) != 1 || esc.Pending[0].Amount.String() != "9" {
		t.Fatalf("expected parked reward of 9, got %+v", esc.Pending)
	}

	delete(rt.refuse, referrer)
	if err := h.engine.RetryPayouts(h.owner, esc.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := h.balance(referrer); got != "9" {
		t.Fatalf("expected referrer 9 after retry, got %s", got)
	}
	// The record remains open and settles normally afterwards.
	if err := h.engine.Withdraw(h.contributor, esc.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.balance(h.contributor); got != "900" {
		t.Fatalf("expected contributor 900, got %s", got)
	}
}

type faultyState struct {
	*mockState
	failNextID bool
	failPut    bool
}

func (f *faultyState) EscrowNextID() (uint64, error) {
	if f.failNextID {
		return 0, fmt.Errorf("sequence unavailable")
	}
	return f.mockState.EscrowNextID()
}

func (f *faultyState) EscrowPut(e *Escrow) error {
	if f.failPut {
		return fmt.Errorf("store unavailable")
	}
	return f.mockState.EscrowPut(e)
}

func TestCreateStateFailureRefundsDeposit(t *testing.T) {
	cases := []struct {
		name  string
		state *faultyState
	}{
		{"sequence failure", &faultyState{mockState: newMockState(), failNextID: true}},
		{"store failure", &faultyState{mockState: newMockState(), failPut: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.SetState(tc.state)
			h.fund(t, h.org, 103)
			if _, err := h.engine.Create(CreateParams{
				Organization: h.org,
				Contributor:  h.contributor,
				Principal:    big.NewInt(100),
				Token:        h.tokenAddr,
			}); err == nil {
				t.Fatalf("expected create to fail")
			}
			// The pull is the only completed leg; it must be refunded exactly.
			if got := h.balance(h.org); got != "103" {
				t.Fatalf("expected organization refunded 103, got %s", got)
			}
			if got := h.balance(h.vault); got != "0" {
				t.Fatalf("expected vault empty, got %s", got)
			}
			if got := h.balance(h.beneficiary); got != "0" {
				t.Fatalf("expected no fee forwarded, got %s", got)
			}
		})
	}
}
