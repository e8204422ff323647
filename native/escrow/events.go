package escrow

import (
	"math/big"
	"strconv"

	"github.com/socious-io/socious-smart-contracts/core/types"
	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

const (
	// EventTypeCreated is emitted once per deposit.
	EventTypeCreated = "escrow.created"
	// EventTypeAssigned is emitted when a deferred contributor is recorded.
	EventTypeAssigned = "escrow.contributor_assigned"
	// EventTypeSettled is emitted by both settlement paths: voluntary
	// withdrawal and owner decision.
	EventTypeSettled = "escrow.settled"
	// EventTypePayoutParked is emitted when an outbound leg fails after the
	// record settled and the owed amount is parked for retry.
	EventTypePayoutParked = "escrow.payout_parked"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newCreatedEvent(esc *Escrow, depositFee *big.Int, tokenAddr token.Address) *types.Event {
	if esc == nil {
		return &types.Event{Type: EventTypeCreated, Attributes: map[string]string{}}
	}
	return &types.Event{
		Type: EventTypeCreated,
		Attributes: map[string]string{
			"id":           strconv.FormatUint(esc.ID, 10),
			"depositFee":   formatAmount(depositFee),
			"principal":    formatAmount(esc.Principal),
			"organization": crypto.FormatAddress(esc.Organization),
			"jobReference": esc.JobReference,
			"token":        crypto.FormatAddress(tokenAddr),
		},
	}
}

func newAssignedEvent(esc *Escrow) *types.Event {
	if esc == nil {
		return &types.Event{Type: EventTypeAssigned, Attributes: map[string]string{}}
	}
	return &types.Event{
		Type: EventTypeAssigned,
		Attributes: map[string]string{
			"id":          strconv.FormatUint(esc.ID, 10),
			"contributor": crypto.FormatAddress(esc.Contributor),
		},
	}
}

func newSettledEvent(id uint64, recipient token.Address, fee, netAmount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeSettled,
		Attributes: map[string]string{
			"id":        strconv.FormatUint(id, 10),
			"recipient": crypto.FormatAddress(recipient),
			"fee":       formatAmount(fee),
			"netAmount": formatAmount(netAmount),
		},
	}
}

func newPayoutParkedEvent(id uint64, recipient token.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypePayoutParked,
		Attributes: map[string]string{
			"id":        strconv.FormatUint(id, 10),
			"recipient": crypto.FormatAddress(recipient),
			"amount":    formatAmount(amount),
		},
	}
}
