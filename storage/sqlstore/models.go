package sqlstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vaultledger/native/vault"
)

// Vault is the persisted form of a vault record.
type Vault struct {
	ID                  string `gorm:"primaryKey"`
	Asset               string `gorm:"index;not null"`
	TotalDeposits       uint64 `gorm:"not null"`
	InterestRate        float64
	BorrowLimitFraction float64
	RewardFactor        float64 `gorm:"not null"`
	UpdatedAt           time.Time
}

// Position stores a user's record in one vault.
type Position struct {
	VaultID       string `gorm:"primaryKey"`
	User          string `gorm:"column:user_id;primaryKey"`
	TotalDeposits uint64 `gorm:"not null"`
	TotalBorrows  uint64 `gorm:"not null"`
	AmountToRepay uint64 `gorm:"not null"`
	UpdatedAt     time.Time
}

// Holding is a ledger balance.
type Holding struct {
	ID        string `gorm:"primaryKey"`
	Asset     string `gorm:"index;not null"`
	Owner     string `gorm:"index;not null"`
	Balance   uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

// TransferEntry journals every applied transfer.
type TransferEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Asset     string    `gorm:"index"`
	FromID    string    `gorm:"index"`
	ToID      string    `gorm:"index"`
	Authority string
	Amount    uint64
	CreatedAt time.Time
}

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Vault{},
		&Position{},
		&Holding{},
		&TransferEntry{},
	)
}

func vaultFromRecord(r *vault.VaultRecord) Vault {
	return Vault{
		ID:                  r.ID,
		Asset:               r.Asset,
		TotalDeposits:       r.TotalDeposits,
		InterestRate:        r.InterestRate,
		BorrowLimitFraction: r.BorrowLimitFraction,
		RewardFactor:        r.RewardFactor,
	}
}

func (v Vault) record() *vault.VaultRecord {
	return &vault.VaultRecord{
		ID:                  v.ID,
		Asset:               v.Asset,
		TotalDeposits:       v.TotalDeposits,
		InterestRate:        v.InterestRate,
		BorrowLimitFraction: v.BorrowLimitFraction,
		RewardFactor:        v.RewardFactor,
	}
}

func positionFromRecord(r *vault.UserRecord) Position {
	return Position{
		VaultID:       r.VaultID,
		User:          r.User,
		TotalDeposits: r.TotalDeposits,
		TotalBorrows:  r.TotalBorrows,
		AmountToRepay: r.AmountToRepay,
	}
}

func (p Position) record() *vault.UserRecord {
	return &vault.UserRecord{
		VaultID:       p.VaultID,
		User:          p.User,
		TotalDeposits: p.TotalDeposits,
		TotalBorrows:  p.TotalBorrows,
		AmountToRepay: p.AmountToRepay,
	}
}
