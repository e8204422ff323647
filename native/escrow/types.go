package escrow

import (
	"math/big"

	"github.com/socious-io/socious-smart-contracts/native/token"
)

// Status is the lifecycle state of an escrow record. The machine has a single
// transition, Open -> Settled, reached by either the contributor's withdrawal
// or the owner's decision. Settled is terminal and records are never deleted.
type Status uint8

const (
	StatusOpen Status = iota
	StatusSettled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusSettled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Referral records an optional referrer for one side of an escrow. The
// discount and reward only apply when Applies is set; a referrer address with
// Applies false is recorded but inert.
type Referral struct {
	Referrer token.Address `json:"referrer"`
	Applies  bool          `json:"applies"`
}

// Set reports whether the referral earns a reward and discounts its lane's
// fee.
func (r Referral) Set() bool {
	return r.Applies && r.Referrer != (token.Address{})
}

// Assign records the referrer and marks the lane active. Pointer receiver:
// assigning through a copy would silently discard the referral.
func (r *Referral) Assign(referrer token.Address) {
	r.Referrer = referrer
	r.Applies = true
}

// PendingPayout is a settlement leg whose outbound transfer failed after the
// record settled. The funds stay in the vault until RetryPayouts delivers
// them; entries are never duplicated on retry.
type PendingPayout struct {
	Recipient token.Address `json:"recipient"`
	Amount    *big.Int      `json:"amount"`
}

// Escrow is one deposit held in custody. Principal, token and the referral
// fields are immutable after creation; Contributor may be assigned once if it
// was left unset; Status flips to Settled exactly once.
type Escrow struct {
	ID                   uint64        `json:"id"`
	Organization         token.Address `json:"organization"`
	Contributor          token.Address `json:"contributor"`
	JobReference         string        `json:"jobReference"`
	Principal            *big.Int      `json:"principal"`
	Token                uint32        `json:"token"`
	OrganizationReferral Referral      `json:"organizationReferral"`
	ContributorReferral  Referral      `json:"contributorReferral"`
	Status               Status        `json:"status"`

	// Pending holds payout legs that failed after the record settled. The
	// escrow is terminal; only these remainders are still owed.
	Pending []PendingPayout `json:"pending,omitempty"`
}

// ContributorSet reports whether a contributor has been recorded, either at
// creation or via assignment.
func (e *Escrow) ContributorSet() bool {
	return e != nil && e.Contributor != (token.Address{})
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Principal != nil {
		clone.Principal = new(big.Int).Set(e.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	if len(e.Pending) > 0 {
		clone.Pending = make([]PendingPayout, len(e.Pending))
		for i, p := range e.Pending {
			clone.Pending[i] = PendingPayout{Recipient: p.Recipient, Amount: new(big.Int).Set(p.Amount)}
		}
	}
	return &clone
}
