package vault

// VaultRecord captures the accounting state of a single-asset pool.
type VaultRecord struct {
	// ID is the unique identifier assigned when the vault is created.
	ID string `json:"id"`
	// Asset names the pooled asset. Every holding touched by the vault is
	// denominated in this asset.
	Asset string `json:"asset"`
	// TotalDeposits is the principal currently held for all depositors.
	TotalDeposits uint64 `json:"totalDeposits"`
	// InterestRate is the fraction of every borrow charged as interest,
	// within [0, 1].
	InterestRate float64 `json:"interestRate"`
	// BorrowLimitFraction is the share of a depositor's own principal they
	// may borrow, within [0, 1].
	BorrowLimitFraction float64 `json:"borrowLimitFraction"`
	// RewardFactor is the accumulating denominator used to size reward
	// payouts. It starts at 1 and never reaches zero.
	RewardFactor float64 `json:"rewardFactor"`
}

// Clone returns a copy of the vault record.
func (v *VaultRecord) Clone() *VaultRecord {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// UserRecord tracks a depositor's position inside one vault.
type UserRecord struct {
	VaultID string `json:"vaultId"`
	User    string `json:"user"`
	// TotalDeposits is the user's principal currently in the pool.
	TotalDeposits uint64 `json:"totalDeposits"`
	// TotalBorrows is the outstanding borrowed principal.
	TotalBorrows uint64 `json:"totalBorrows"`
	// AmountToRepay is principal plus accrued interest still owed.
	AmountToRepay uint64 `json:"amountToRepay"`
}

// Clone returns a copy of the user record.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

// Closed reports whether the position has been fully unwound.
func (u *UserRecord) Closed() bool {
	if u == nil {
		return true
	}
	return u.TotalDeposits == 0 && u.TotalBorrows == 0 && u.AmountToRepay == 0
}

// CreateVaultParams describes a vault to be created.
type CreateVaultParams struct {
	Asset               string
	InterestRate        float64
	BorrowLimitFraction float64
}

// Transfer describes a single movement of the pool asset between holdings.
type Transfer struct {
	Asset     string
	From      string
	To        string
	Authority string
	Amount    uint64
}

// WithdrawResult reports the amounts paid out by a withdrawal.
type WithdrawResult struct {
	Principal uint64 `json:"principal"`
	Reward    uint64 `json:"reward"`
}

// RepayResult reports how a repayment was split between the principal and
// reward holdings.
type RepayResult struct {
	ToVault   uint64 `json:"toVault"`
	ToRewards uint64 `json:"toRewards"`
}
