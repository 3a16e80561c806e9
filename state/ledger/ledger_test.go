package ledger

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultledger/native/vault"
	"vaultledger/storage"
)

func TestTransferMovesBalance(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemDB(), nil)
	alice := vault.UserHolding("usdc", "alice")
	principal := vault.PrincipalHolding("v1")

	_, err := l.Credit(ctx, alice, "USDC", 100)
	require.NoError(t, err)

	err = l.Transfer(ctx, vault.Transfer{Asset: "usdc", From: alice, To: principal, Authority: "alice", Amount: 40})
	require.NoError(t, err)

	src, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(60), src.Balance)

	dst, err := l.Balance(ctx, principal)
	require.NoError(t, err)
	require.Equal(t, uint64(40), dst.Balance)
	require.Equal(t, "vault/v1", dst.Owner)
	require.Equal(t, "usdc", dst.Asset)
}

func TestTransferRejections(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemDB(), nil)
	alice := vault.UserHolding("usdc", "alice")
	principal := vault.PrincipalHolding("v1")
	_, err := l.Credit(ctx, alice, "usdc", 10)
	require.NoError(t, err)

	cases := []struct {
		name string
		tr   vault.Transfer
		want error
	}{
		{name: "unknown source", tr: vault.Transfer{Asset: "usdc", From: principal, To: alice, Authority: "vault/v1", Amount: 1}, want: ErrUnknownHolding},
		{name: "wrong authority", tr: vault.Transfer{Asset: "usdc", From: alice, To: principal, Authority: "mallory", Amount: 1}, want: ErrUnauthorized},
		{name: "wrong asset", tr: vault.Transfer{Asset: "dai", From: alice, To: principal, Authority: "alice", Amount: 1}, want: ErrAssetMismatch},
		{name: "insufficient", tr: vault.Transfer{Asset: "usdc", From: alice, To: principal, Authority: "alice", Amount: 11}, want: ErrInsufficientBalance},
		{name: "self", tr: vault.Transfer{Asset: "usdc", From: alice, To: alice, Authority: "alice", Amount: 1}, want: ErrSelfTransfer},
		{name: "unowned destination", tr: vault.Transfer{Asset: "usdc", From: alice, To: "treasury", Authority: "alice", Amount: 1}, want: ErrUnownedHolding},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := l.Transfer(ctx, tc.tr)
			require.True(t, errors.Is(err, tc.want), "expected %v, got %v", tc.want, err)
		})
	}

	h, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(10), h.Balance, "failed transfers must not change balances")
}

func TestCreditOverflow(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemDB(), nil)
	holding := vault.RewardHolding("v1")
	_, err := l.Credit(ctx, holding, "usdc", math.MaxUint64)
	require.NoError(t, err)
	_, err = l.Credit(ctx, holding, "usdc", 1)
	require.ErrorIs(t, err, ErrBalanceOverflow)
}

func TestBalanceUnknownHolding(t *testing.T) {
	l := New(storage.NewMemDB(), nil)
	_, err := l.Balance(context.Background(), "user/usdc/nobody")
	require.ErrorIs(t, err, ErrUnknownHolding)
}

func TestCustomOwnerResolver(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemDB(), func(string) string { return "ops" })
	_, err := l.Credit(ctx, "treasury", "usdc", 5)
	require.NoError(t, err)
	require.NoError(t, l.Transfer(ctx, vault.Transfer{Asset: "usdc", From: "treasury", To: "reserve", Authority: "ops", Amount: 5}))
}
