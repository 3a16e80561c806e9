package vault

import (
	"errors"
	"fmt"
)

var (
	ErrInterestRateOutOfBounds = errors.New("vault engine: interest rate must be between 0 and 1")
	ErrBorrowMaxOutOfBounds    = errors.New("vault engine: borrow limit must be between 0 and 1")
	ErrCannotBorrowOverMax     = errors.New("vault engine: attempt to borrow over maximum")
	ErrWithdrawWithBorrows     = errors.New("vault engine: cannot withdraw with outstanding borrows")
	ErrRepayExceedsDebt        = errors.New("vault engine: repayment exceeds amount owed")
	ErrInsufficientDeposits    = errors.New("vault engine: withdrawal exceeds deposits")
	ErrInvalidAmount           = errors.New("vault engine: amount must be positive")
	ErrInvalidAsset            = errors.New("vault engine: asset must be provided and contain no '/'")
	ErrInvalidUser             = errors.New("vault engine: user must be provided")
	ErrInvalidRate             = errors.New("vault engine: rate must be a finite non-negative number")
	ErrVaultNotFound           = errors.New("vault engine: vault not found")
	ErrPositionNotFound        = errors.New("vault engine: position not found")
	ErrTransferFailed          = errors.New("vault engine: transfer failed")
	ErrArithmeticOverflow      = errors.New("vault engine: arithmetic overflow")
	ErrDivisionByZero          = errors.New("vault engine: division by zero")
	ErrPartialRepay            = errors.New("vault engine: repayment partially transferred")
	ErrPartialWithdraw         = errors.New("vault engine: withdrawal partially transferred")

	errNilState  = errors.New("vault engine: state not configured")
	errNilLedger = errors.New("vault engine: ledger not configured")
)

// PartialTransferError reports a two-leg settlement where the first leg moved
// funds, the second failed and the compensating transfer could not restore
// the first. Records are left untouched; balances need reconciliation.
type PartialTransferError struct {
	// Kind is ErrPartialRepay or ErrPartialWithdraw.
	Kind         error
	VaultID      string
	User         string
	Completed    Transfer
	Failed       Transfer
	Cause        error
	Compensation error
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("%v: vault %s user %s: moved %d %s -> %s, failed %d %s -> %s: %v (compensation: %v)",
		e.Kind, e.VaultID, e.User,
		e.Completed.Amount, e.Completed.From, e.Completed.To,
		e.Failed.Amount, e.Failed.From, e.Failed.To,
		e.Cause, e.Compensation)
}

func (e *PartialTransferError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}
