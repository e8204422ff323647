package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/common"
	"github.com/socious-io/socious-smart-contracts/native/donation"
	"github.com/socious-io/socious-smart-contracts/native/escrow"
	"github.com/socious-io/socious-smart-contracts/native/income"
	"github.com/socious-io/socious-smart-contracts/native/lending"
	"github.com/socious-io/socious-smart-contracts/native/token"
)

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAccount(field, raw string) (token.Address, error) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return token.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parsePositiveBigInt(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// engineErrorCode maps sentinel engine errors onto the RPC error space:
// invalid input, missing record, forbidden caller, state conflict, and
// everything transfer-related as internal.
func engineErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, lending.ErrUnknownProject):
		return http.StatusNotFound, codeEngineNotFound
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, lending.ErrUnauthorized),
		errors.Is(err, donation.ErrUnauthorized),
		errors.Is(err, income.ErrUnauthorized),
		errors.Is(err, token.ErrUnauthorized),
		errors.Is(err, common.ErrUnauthorized):
		return http.StatusForbidden, codeEngineForbidden
	case errors.Is(err, escrow.ErrAlreadyAssigned),
		errors.Is(err, escrow.ErrAlreadySettled),
		errors.Is(err, escrow.ErrContributorUnset),
		errors.Is(err, lending.ErrDuplicateProject),
		errors.Is(err, lending.ErrAlreadyBorrowed),
		errors.Is(err, lending.ErrNotBorrowed),
		errors.Is(err, lending.ErrNothingToRedeem),
		errors.Is(err, common.ErrModulePaused),
		errors.Is(err, token.ErrDuplicateToken):
		return http.StatusConflict, codeEngineConflict
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrUnknownToken),
		errors.Is(err, escrow.ErrInvalidContributor),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrUnknownToken),
		errors.Is(err, lending.ErrTargetExceeded),
		errors.Is(err, lending.ErrOverRepayment),
		errors.Is(err, donation.ErrInvalidAmount),
		errors.Is(err, donation.ErrUnknownToken),
		errors.Is(err, donation.ErrFeeOutOfRange),
		errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrInvalidAmount):
		return http.StatusBadRequest, codeEngineInvalidParams
	default:
		return http.StatusInternalServerError, codeEngineInternal
	}
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status, code := engineErrorCode(err)
	writeError(w, status, id, code, err.Error(), nil)
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeEngineInvalidParams, "invalid_params", err.Error())
}
