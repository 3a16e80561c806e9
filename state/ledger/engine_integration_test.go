package ledger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultledger/native/vault"
	"vaultledger/state/ledger"
	"vaultledger/state/vaultstate"
	"vaultledger/storage"
)

func TestEngineLifecycleOverStorage(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "vault.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	book := ledger.New(db, nil)
	engine := vault.NewEngine(vault.DefaultConfig())
	engine.SetState(vaultstate.NewManager(db))
	engine.SetLedger(book)

	id, err := engine.CreateVault(ctx, vault.CreateVaultParams{Asset: "usdc", InterestRate: 0.1, BorrowLimitFraction: 0.5})
	require.NoError(t, err)

	alice := vault.UserHolding("usdc", "alice")
	_, err = book.Credit(ctx, alice, "usdc", 1010)
	require.NoError(t, err)

	require.NoError(t, engine.Deposit(ctx, id, "alice", 1000))
	require.NoError(t, engine.Borrow(ctx, id, "alice", 100))

	split, err := engine.Repay(ctx, id, "alice", 110)
	require.NoError(t, err)
	require.Equal(t, vault.RepayResult{ToVault: 100, ToRewards: 10}, split)

	v, err := engine.Vault(ctx, id)
	require.NoError(t, err)
	wantReward, err := vault.DivideByRatio(1000, vault.Ratio(v.TotalDeposits, v.RewardFactor))
	require.NoError(t, err)

	// Top up the reward pool so the payout is covered.
	_, err = book.Credit(ctx, vault.RewardHolding(id), "usdc", wantReward)
	require.NoError(t, err)

	result, err := engine.Withdraw(ctx, id, "alice", 1000)
	require.NoError(t, err)
	require.Equal(t, wantReward, result.Reward)

	pos, err := engine.Position(ctx, id, "alice")
	require.NoError(t, err)
	require.True(t, pos.Closed())

	h, err := book.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1000+wantReward), h.Balance)

	rewards, err := book.Balance(ctx, vault.RewardHolding(id))
	require.NoError(t, err)
	require.Equal(t, uint64(10), rewards.Balance)
}
