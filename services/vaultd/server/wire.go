package server

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"vaultledger/native/vault"
	"vaultledger/state/ledger"
)

type createVaultRequest struct {
	Asset        string          `json:"asset"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	BorrowLimit  decimal.Decimal `json:"borrow_limit"`
}

type operationRequest struct {
	User   string          `json:"user"`
	Amount decimal.Decimal `json:"amount"`
}

type creditRequest struct {
	Holding string          `json:"holding"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type vaultResponse struct {
	ID            string `json:"id"`
	Asset         string `json:"asset"`
	TotalDeposits string `json:"total_deposits"`
	InterestRate  string `json:"interest_rate"`
	BorrowLimit   string `json:"borrow_limit"`
	RewardFactor  string `json:"reward_factor"`
}

type positionResponse struct {
	VaultID           string `json:"vault_id"`
	User              string `json:"user"`
	TotalDeposits     string `json:"total_deposits"`
	TotalBorrows      string `json:"total_borrows"`
	AmountToRepay     string `json:"amount_to_repay"`
	AvailableToBorrow string `json:"available_to_borrow"`
}

type holdingResponse struct {
	ID      string `json:"id"`
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

type repayResponse struct {
	ToVault   string `json:"to_vault"`
	ToRewards string `json:"to_rewards"`
}

type withdrawResponse struct {
	Principal string `json:"principal"`
	Reward    string `json:"reward"`
}

// parseAmount accepts a non-negative integer amount in base units.
func parseAmount(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() || !d.IsInteger() {
		return 0, fmt.Errorf("%w: amount must be a non-negative integer", errBadRequest)
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: amount exceeds 64 bits", errBadRequest)
	}
	return n.Uint64(), nil
}

// parseFraction bounds-checks the exact decimal before converting it, so a
// value a hair above 1 cannot round into range.
func parseFraction(d decimal.Decimal, outOfBounds error) (float64, error) {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, outOfBounds
	}
	return d.InexactFloat64(), nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatRate(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprint(v)
	}
	return decimal.NewFromFloat(v).String()
}

func toVaultResponse(v *vault.VaultRecord) vaultResponse {
	return vaultResponse{
		ID:            v.ID,
		Asset:         v.Asset,
		TotalDeposits: formatUint(v.TotalDeposits),
		InterestRate:  formatRate(v.InterestRate),
		BorrowLimit:   formatRate(v.BorrowLimitFraction),
		RewardFactor:  formatRate(v.RewardFactor),
	}
}

func toPositionResponse(p *vault.UserRecord, available uint64) positionResponse {
	return positionResponse{
		VaultID:           p.VaultID,
		User:              p.User,
		TotalDeposits:     formatUint(p.TotalDeposits),
		TotalBorrows:      formatUint(p.TotalBorrows),
		AmountToRepay:     formatUint(p.AmountToRepay),
		AvailableToBorrow: formatUint(available),
	}
}

func toHoldingResponse(h ledger.Holding) holdingResponse {
	return holdingResponse{ID: h.ID, Asset: h.Asset, Owner: h.Owner, Balance: formatUint(h.Balance)}
}
