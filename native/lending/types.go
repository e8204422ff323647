package lending

import (
	"math/big"

	"github.com/socious-io/socious-smart-contracts/native/token"
)

// Stake is one lender's contribution to a project pool. Redeemed tracks how
// much of the repayment stream the lender has already withdrawn.
type Stake struct {
	Lender   token.Address `json:"lender"`
	Amount   *big.Int      `json:"amount"`
	Redeemed *big.Int      `json:"redeemed"`
}

// Project is a pooled-capital lending round: lenders fund up to Target, the
// owner borrows the raised balance and repays it with interest in amortized
// installments which lenders redeem pro-rata.
type Project struct {
	ID          string   `json:"id"`
	Target      *big.Int `json:"target"`
	Token       uint32   `json:"token"`
	Raised      *big.Int `json:"raised"`
	Borrowed    bool     `json:"borrowed"`
	Repaid      *big.Int `json:"repaid"`
	Stakes      []Stake  `json:"stakes"`
	Rounds      uint32   `json:"rounds"`
	InterestBps uint32   `json:"interestBps"`
}

// Installment is one round of the amortization schedule.
type Installment struct {
	Round  uint32   `json:"round"`
	Amount *big.Int `json:"amount"`
}

// TotalDue is the full repayment obligation: the raised principal plus
// interest.
func (p *Project) TotalDue() *big.Int {
	if p == nil || p.Raised == nil {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(p.Raised, big.NewInt(int64(p.InterestBps)))
	interest.Div(interest, big.NewInt(10_000))
	return new(big.Int).Add(p.Raised, interest)
}

// Schedule divides TotalDue into equal installments over the configured round
// count, folding the truncation remainder into the final installment so the
// rounds sum exactly to the obligation.
func (p *Project) Schedule() []Installment {
	if p == nil || p.Rounds == 0 {
		return nil
	}
	total := p.TotalDue()
	rounds := big.NewInt(int64(p.Rounds))
	base := new(big.Int).Div(total, rounds)
	out := make([]Installment, 0, p.Rounds)
	paid := big.NewInt(0)
	for round := uint32(1); round < p.Rounds; round++ {
		out = append(out, Installment{Round: round, Amount: new(big.Int).Set(base)})
		paid.Add(paid, base)
	}
	out = append(out, Installment{Round: p.Rounds, Amount: new(big.Int).Sub(total, paid)})
	return out
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Target = cloneAmount(p.Target)
	clone.Raised = cloneAmount(p.Raised)
	clone.Repaid = cloneAmount(p.Repaid)
	clone.Stakes = make([]Stake, len(p.Stakes))
	for i, stake := range p.Stakes {
		clone.Stakes[i] = Stake{
			Lender:   stake.Lender,
			Amount:   cloneAmount(stake.Amount),
			Redeemed: cloneAmount(stake.Redeemed),
		}
	}
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
