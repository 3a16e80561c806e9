package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vaultledger/native/vault"
	"vaultledger/state/ledger"
)

// Store keeps vault records and ledger holdings in a SQL database. It
// satisfies both vault.State and vault.Ledger.
type Store struct {
	db    *gorm.DB
	owner ledger.OwnerResolver
	now   func() time.Time
}

var (
	_ vault.State  = (*Store)(nil)
	_ vault.Ledger = (*Store)(nil)
)

// Open connects to driver ("sqlite" or "postgres") at dsn and migrates the
// schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, owner: vault.HoldingOwner, now: time.Now}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetVault(ctx context.Context, id string) (*vault.VaultRecord, error) {
	var row Vault
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.record(), nil
}

func (s *Store) PutVault(ctx context.Context, record *vault.VaultRecord) error {
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("sqlstore: vault id required")
	}
	if err := checkAmounts(record.TotalDeposits); err != nil {
		return err
	}
	row := vaultFromRecord(record)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) GetUserRecord(ctx context.Context, vaultID, user string) (*vault.UserRecord, error) {
	var row Position
	if err := s.db.WithContext(ctx).First(&row, "vault_id = ? AND user_id = ?", vaultID, user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.record(), nil
}

// Commit stores the vault and position in one transaction.
func (s *Store) Commit(ctx context.Context, v *vault.VaultRecord, u *vault.UserRecord) error {
	if v == nil || u == nil {
		return fmt.Errorf("sqlstore: commit requires vault and user records")
	}
	if u.VaultID != v.ID {
		return fmt.Errorf("sqlstore: user record belongs to vault %q, not %q", u.VaultID, v.ID)
	}
	if err := checkAmounts(v.TotalDeposits, u.TotalDeposits, u.TotalBorrows, u.AmountToRepay); err != nil {
		return err
	}
	vaultRow := vaultFromRecord(v)
	positionRow := positionFromRecord(u)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&vaultRow).Error; err != nil {
			return err
		}
		return tx.Save(&positionRow).Error
	})
}

// Transfer applies t inside a transaction and journals it.
func (s *Store) Transfer(ctx context.Context, t vault.Transfer) error {
	if t.Amount == 0 {
		return nil
	}
	if t.From == t.To {
		return ledger.ErrSelfTransfer
	}
	asset := strings.ToLower(strings.TrimSpace(t.Asset))
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		from, err := lockHolding(tx, t.From)
		if err != nil {
			return err
		}
		if from == nil {
			return fmt.Errorf("%w: %s", ledger.ErrUnknownHolding, t.From)
		}
		if from.Owner != t.Authority {
			return fmt.Errorf("%w: %s", ledger.ErrUnauthorized, t.From)
		}
		if from.Asset != asset {
			return fmt.Errorf("%w: %s holds %s", ledger.ErrAssetMismatch, from.ID, from.Asset)
		}
		if from.Balance < t.Amount {
			return fmt.Errorf("%w: %s has %d, need %d", ledger.ErrInsufficientBalance, from.ID, from.Balance, t.Amount)
		}
		to, err := s.openHolding(tx, t.To, asset)
		if err != nil {
			return err
		}
		if to.Balance > math.MaxInt64-t.Amount {
			return ledger.ErrBalanceOverflow
		}
		from.Balance -= t.Amount
		to.Balance += t.Amount
		if err := tx.Save(from).Error; err != nil {
			return err
		}
		if err := tx.Save(to).Error; err != nil {
			return err
		}
		entry := TransferEntry{
			ID:        uuid.New(),
			Asset:     asset,
			FromID:    t.From,
			ToID:      t.To,
			Authority: t.Authority,
			Amount:    t.Amount,
			CreatedAt: s.now().UTC(),
		}
		return tx.Create(&entry).Error
	})
}

// Credit mints amount into holding.
func (s *Store) Credit(ctx context.Context, holding, asset string, amount uint64) (ledger.Holding, error) {
	var out ledger.Holding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := s.openHolding(tx, holding, strings.ToLower(strings.TrimSpace(asset)))
		if err != nil {
			return err
		}
		if h.Balance > math.MaxInt64 || amount > math.MaxInt64-h.Balance {
			return ledger.ErrBalanceOverflow
		}
		h.Balance += amount
		if err := tx.Save(h).Error; err != nil {
			return err
		}
		out = ledger.Holding{ID: h.ID, Asset: h.Asset, Owner: h.Owner, Balance: h.Balance}
		return nil
	})
	return out, err
}

// Balance returns the holding or ledger.ErrUnknownHolding.
func (s *Store) Balance(ctx context.Context, holding string) (ledger.Holding, error) {
	var row Holding
	if err := s.db.WithContext(ctx).First(&row, "id = ?", holding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Holding{}, fmt.Errorf("%w: %s", ledger.ErrUnknownHolding, holding)
		}
		return ledger.Holding{}, err
	}
	return ledger.Holding{ID: row.ID, Asset: row.Asset, Owner: row.Owner, Balance: row.Balance}, nil
}

// Transfers lists journal entries touching holding, oldest first.
func (s *Store) Transfers(ctx context.Context, holding string) ([]TransferEntry, error) {
	var entries []TransferEntry
	err := s.db.WithContext(ctx).
		Where("from_id = ? OR to_id = ?", holding, holding).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

func lockHolding(tx *gorm.DB, id string) (*Holding, error) {
	var row Holding
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (s *Store) openHolding(tx *gorm.DB, id, asset string) (*Holding, error) {
	h, err := lockHolding(tx, id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		owner := s.owner(id)
		if owner == "" {
			return nil, fmt.Errorf("%w: %s", ledger.ErrUnownedHolding, id)
		}
		return &Holding{ID: id, Asset: asset, Owner: owner}, nil
	}
	if h.Asset != asset {
		return nil, fmt.Errorf("%w: %s holds %s", ledger.ErrAssetMismatch, h.ID, h.Asset)
	}
	return h, nil
}

// checkAmounts rejects values SQL integer columns cannot hold.
func checkAmounts(values ...uint64) error {
	for _, v := range values {
		if v > math.MaxInt64 {
			return vault.ErrArithmeticOverflow
		}
	}
	return nil
}
