package vaultstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vaultledger/native/vault"
	"vaultledger/storage"
)

// Manager persists vault and user records in a key-value database.
type Manager struct {
	db storage.Database
}

var _ vault.State = (*Manager)(nil)

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// GetVault returns the stored vault record or nil when it does not exist.
func (m *Manager) GetVault(ctx context.Context, id string) (*vault.VaultRecord, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	var record vault.VaultRecord
	ok, err := m.load(vaultKey(id), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

func (m *Manager) PutVault(ctx context.Context, record *vault.VaultRecord) error {
	if err := m.ready(ctx); err != nil {
		return err
	}
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("vaultstate: vault id required")
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return m.db.Put(vaultKey(record.ID), encoded)
}

// GetUserRecord returns the user's position or nil when none exists.
func (m *Manager) GetUserRecord(ctx context.Context, vaultID, user string) (*vault.UserRecord, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	var record vault.UserRecord
	ok, err := m.load(userKey(vaultID, user), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

// Commit writes both records in a single batch.
func (m *Manager) Commit(ctx context.Context, v *vault.VaultRecord, u *vault.UserRecord) error {
	if err := m.ready(ctx); err != nil {
		return err
	}
	if v == nil || u == nil {
		return fmt.Errorf("vaultstate: commit requires vault and user records")
	}
	if u.VaultID != v.ID {
		return fmt.Errorf("vaultstate: user record belongs to vault %q, not %q", u.VaultID, v.ID)
	}
	encodedVault, err := json.Marshal(v)
	if err != nil {
		return err
	}
	encodedUser, err := json.Marshal(u)
	if err != nil {
		return err
	}
	batch := m.db.NewBatch()
	batch.Put(vaultKey(v.ID), encodedVault)
	batch.Put(userKey(u.VaultID, u.User), encodedUser)
	return batch.Write()
}

func (m *Manager) load(key []byte, out any) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("vaultstate: decode record: %w", err)
	}
	return true, nil
}

func (m *Manager) ready(ctx context.Context) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("vaultstate: database not initialised")
	}
	return ctx.Err()
}
