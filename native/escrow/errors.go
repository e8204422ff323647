package escrow

import "errors"

var (
	ErrNilState           = errors.New("escrow: state not configured")
	ErrNotFound           = errors.New("escrow: escrow not found")
	ErrUnauthorized       = errors.New("escrow: unauthorized caller")
	ErrInvalidAmount      = errors.New("escrow: principal must be positive")
	ErrUnknownToken       = errors.New("escrow: token not registered")
	ErrAlreadyAssigned    = errors.New("escrow: contributor already assigned")
	ErrAlreadySettled     = errors.New("escrow: escrow already settled")
	ErrContributorUnset   = errors.New("escrow: contributor not set")
	ErrInvalidContributor = errors.New("escrow: contributor address required")
	ErrTransferFailed     = errors.New("escrow: token transfer failed")
)
