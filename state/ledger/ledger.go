package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"vaultledger/native/vault"
	"vaultledger/storage"
)

var (
	ErrUnknownHolding      = errors.New("ledger: holding not found")
	ErrUnauthorized        = errors.New("ledger: authority may not spend from holding")
	ErrAssetMismatch       = errors.New("ledger: asset does not match holding")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBalanceOverflow     = errors.New("ledger: balance overflow")
	ErrSelfTransfer        = errors.New("ledger: source and destination are the same holding")
	ErrUnownedHolding      = errors.New("ledger: holding has no owner")
)

var holdingPrefix = []byte("ledger/holding/")

// Holding is a balance of one asset controlled by a single authority.
type Holding struct {
	ID      string `json:"id"`
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

// OwnerResolver names the authority of a holding that does not exist yet.
type OwnerResolver func(holding string) string

// Ledger moves asset balances between holdings stored in a key-value
// database. Each transfer writes both holdings in one batch.
type Ledger struct {
	db    storage.Database
	owner OwnerResolver
	mu    sync.Mutex
}

var _ vault.Ledger = (*Ledger)(nil)

// New returns a ledger. When owner is nil holdings are owned according to
// the vault naming scheme.
func New(db storage.Database, owner OwnerResolver) *Ledger {
	if owner == nil {
		owner = vault.HoldingOwner
	}
	return &Ledger{db: db, owner: owner}
}

// Transfer moves t.Amount from t.From to t.To. It fails without side effects
// when the authority does not own the source, the asset differs, or the
// source balance is too small.
func (l *Ledger) Transfer(ctx context.Context, t vault.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Amount == 0 {
		return nil
	}
	if t.From == t.To {
		return ErrSelfTransfer
	}
	asset := normalizeAsset(t.Asset)

	l.mu.Lock()
	defer l.mu.Unlock()

	from, err := l.get(t.From)
	if err != nil {
		return err
	}
	if from == nil {
		return fmt.Errorf("%w: %s", ErrUnknownHolding, t.From)
	}
	if from.Owner != t.Authority {
		return fmt.Errorf("%w: %s", ErrUnauthorized, t.From)
	}
	if from.Asset != asset {
		return fmt.Errorf("%w: %s holds %s", ErrAssetMismatch, from.ID, from.Asset)
	}
	if from.Balance < t.Amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientBalance, from.ID, from.Balance, t.Amount)
	}

	to, err := l.getOrOpen(t.To, asset)
	if err != nil {
		return err
	}
	credited, err := add(to.Balance, t.Amount)
	if err != nil {
		return err
	}
	from.Balance -= t.Amount
	to.Balance = credited

	batch := l.db.NewBatch()
	if err := putHolding(batch, from); err != nil {
		return err
	}
	if err := putHolding(batch, to); err != nil {
		return err
	}
	return batch.Write()
}

// Credit mints amount into holding, opening it when necessary. It is used to
// fund user holdings and reward pools.
func (l *Ledger) Credit(ctx context.Context, holding, asset string, amount uint64) (Holding, error) {
	if err := ctx.Err(); err != nil {
		return Holding{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h, err := l.getOrOpen(holding, normalizeAsset(asset))
	if err != nil {
		return Holding{}, err
	}
	balance, err := add(h.Balance, amount)
	if err != nil {
		return Holding{}, err
	}
	h.Balance = balance
	batch := l.db.NewBatch()
	if err := putHolding(batch, h); err != nil {
		return Holding{}, err
	}
	if err := batch.Write(); err != nil {
		return Holding{}, err
	}
	return *h, nil
}

// Balance returns the holding, or ErrUnknownHolding when it was never opened.
func (l *Ledger) Balance(ctx context.Context, holding string) (Holding, error) {
	if err := ctx.Err(); err != nil {
		return Holding{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h, err := l.get(holding)
	if err != nil {
		return Holding{}, err
	}
	if h == nil {
		return Holding{}, fmt.Errorf("%w: %s", ErrUnknownHolding, holding)
	}
	return *h, nil
}

func (l *Ledger) getOrOpen(id, asset string) (*Holding, error) {
	h, err := l.get(id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		owner := l.owner(id)
		if owner == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnownedHolding, id)
		}
		return &Holding{ID: id, Asset: asset, Owner: owner}, nil
	}
	if h.Asset != asset {
		return nil, fmt.Errorf("%w: %s holds %s", ErrAssetMismatch, h.ID, h.Asset)
	}
	return h, nil
}

func (l *Ledger) get(id string) (*Holding, error) {
	raw, err := l.db.Get(holdingKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var h Holding
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("ledger: decode holding %s: %w", id, err)
	}
	return &h, nil
}

func putHolding(batch storage.Batch, h *Holding) error {
	encoded, err := json.Marshal(h)
	if err != nil {
		return err
	}
	batch.Put(holdingKey(h.ID), encoded)
	return nil
}

func holdingKey(id string) []byte {
	sum := blake3.Sum256([]byte(id))
	return append(append([]byte(nil), holdingPrefix...), hex.EncodeToString(sum[:])...)
}

func add(balance, amount uint64) (uint64, error) {
	sum := new(uint256.Int).Add(uint256.NewInt(balance), uint256.NewInt(amount))
	if !sum.IsUint64() {
		return 0, ErrBalanceOverflow
	}
	return sum.Uint64(), nil
}

func normalizeAsset(asset string) string {
	return strings.ToLower(strings.TrimSpace(asset))
}
