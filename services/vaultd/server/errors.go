package server

import (
	"errors"
	"net/http"

	nativecommon "vaultledger/native/common"
	"vaultledger/native/vault"
	"vaultledger/state/ledger"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errBadRequest = errors.New("bad request")

// toHTTP maps engine and ledger failures to a status and a stable code.
func toHTTP(err error) (int, string) {
	var partial *vault.PartialTransferError
	switch {
	case errors.As(err, &partial):
		return http.StatusInternalServerError, "partial_settlement"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, vault.ErrVaultNotFound):
		return http.StatusNotFound, "vault_not_found"
	case errors.Is(err, vault.ErrPositionNotFound):
		return http.StatusNotFound, "position_not_found"
	case errors.Is(err, ledger.ErrUnknownHolding):
		return http.StatusNotFound, "holding_not_found"
	case errors.Is(err, vault.ErrInterestRateOutOfBounds):
		return http.StatusBadRequest, "interest_rate_out_of_bounds"
	case errors.Is(err, vault.ErrBorrowMaxOutOfBounds):
		return http.StatusBadRequest, "borrow_max_out_of_bounds"
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidAsset),
		errors.Is(err, vault.ErrInvalidUser),
		errors.Is(err, vault.ErrInvalidRate),
		errors.Is(err, ledger.ErrUnownedHolding),
		errors.Is(err, ledger.ErrAssetMismatch):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, vault.ErrCannotBorrowOverMax):
		return http.StatusConflict, "cannot_borrow_over_max"
	case errors.Is(err, vault.ErrWithdrawWithBorrows):
		return http.StatusConflict, "withdraw_with_borrows"
	case errors.Is(err, vault.ErrRepayExceedsDebt):
		return http.StatusConflict, "repay_exceeds_debt"
	case errors.Is(err, vault.ErrInsufficientDeposits):
		return http.StatusConflict, "insufficient_deposits"
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return http.StatusConflict, "balance_overflow"
	case errors.Is(err, vault.ErrTransferFailed):
		return http.StatusUnprocessableEntity, "transfer_failed"
	case errors.Is(err, vault.ErrArithmeticOverflow), errors.Is(err, vault.ErrDivisionByZero):
		return http.StatusInternalServerError, "invariant_violation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// publicMessage hides internal detail for 5xx responses.
func publicMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		var partial *vault.PartialTransferError
		if errors.As(err, &partial) {
			return "settlement partially applied; reconciliation required"
		}
		return http.StatusText(status)
	}
	return err.Error()
}
