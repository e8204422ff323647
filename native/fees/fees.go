// Package fees holds the pure fee and referral calculus shared by the custody
// engines. Two independent lanes exist: the deposit lane charged when an
// escrow is funded and the settlement lane charged when it is released. A
// referral on either lane halves that lane's fee and pays the referrer a flat
// share of the principal; the lanes never interact.
package fees

import "math/big"

// Basis-point rates. All arithmetic is integer division truncating toward
// zero; a fee or reward that rounds to zero is paid as zero.
const (
	// DepositFeeBps is charged on top of the principal when an escrow is
	// created: the organization is debited principal + fee.
	DepositFeeBps = 300
	// SettlementFeeBps is deducted from the principal when escrowed funds are
	// released to the contributor.
	SettlementFeeBps = 1000
	// RetentionFeeBps is deducted from the principal when the owner decides to
	// refund the organization.
	RetentionFeeBps = 100
	// ReferralRewardBps is the referrer's reward, a flat share of the
	// principal independent of the fee discount.
	ReferralRewardBps = 90
	// DiscountDivisor halves the lane fee when the lane's referral flag is
	// set.
	DiscountDivisor = 2

	bpsDenominator = 10_000
)

// Quote is the outcome of evaluating one fee lane for a given principal.
type Quote struct {
	// Fee is the (possibly discounted) lane fee.
	Fee *big.Int
	// Reward is the referrer's share, zero when the lane is not referred.
	Reward *big.Int
	// SinkShare is the portion of the fee retained by the protocol,
	// Fee - Reward.
	SinkShare *big.Int
	// Net is the amount payable to the contributor on the settlement lane,
	// principal - Fee. Zero on the deposit lane.
	Net *big.Int
	// TotalDebit is the amount pulled from the organization on the deposit
	// lane, principal + Fee. Zero on the settlement lane.
	TotalDebit *big.Int
	// Referred records whether the discount and reward applied.
	Referred bool
}

func share(principal *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(principal, big.NewInt(bps))
	return out.Div(out, big.NewInt(bpsDenominator))
}

func laneQuote(principal *big.Int, feeBps int64, referred bool) Quote {
	q := Quote{Referred: referred}
	q.Fee = share(principal, feeBps)
	if referred {
		q.Fee.Div(q.Fee, big.NewInt(DiscountDivisor))
		q.Reward = share(principal, ReferralRewardBps)
	} else {
		q.Reward = big.NewInt(0)
	}
	q.SinkShare = new(big.Int).Sub(q.Fee, q.Reward)
	if q.SinkShare.Sign() < 0 {
		q.SinkShare = big.NewInt(0)
	}
	q.Net = big.NewInt(0)
	q.TotalDebit = big.NewInt(0)
	return q
}

// QuoteDeposit evaluates the deposit lane. The organization is debited
// TotalDebit; Reward goes to the organization's referrer and SinkShare to the
// income sink.
func QuoteDeposit(principal *big.Int, referred bool) Quote {
	q := laneQuote(principal, DepositFeeBps, referred)
	q.TotalDebit = new(big.Int).Add(principal, q.Fee)
	return q
}

// QuoteSettlement evaluates the settlement lane. The contributor receives Net;
// Reward goes to the contributor's referrer and SinkShare to the income sink.
func QuoteSettlement(principal *big.Int, referred bool) Quote {
	q := laneQuote(principal, SettlementFeeBps, referred)
	q.Net = new(big.Int).Sub(principal, q.Fee)
	return q
}

// RetentionQuote is the outcome of an owner-decided refund: the organization
// receives Refund and the income sink receives Fee. Referrals never apply, the
// organization's referral discount is a deposit-time concern.
type RetentionQuote struct {
	Fee    *big.Int
	Refund *big.Int
}

// QuoteRetention evaluates the decision-refund retention fee.
func QuoteRetention(principal *big.Int) RetentionQuote {
	fee := share(principal, RetentionFeeBps)
	return RetentionQuote{
		Fee:    fee,
		Refund: new(big.Int).Sub(principal, fee),
	}
}
