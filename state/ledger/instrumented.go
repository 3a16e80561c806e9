package ledger

import (
	"context"

	"vaultledger/native/vault"
	"vaultledger/observability"
)

type instrumented struct {
	next vault.Ledger
}

// Instrument wraps next so every transfer attempt is counted.
func Instrument(next vault.Ledger) vault.Ledger {
	return instrumented{next: next}
}

func (i instrumented) Transfer(ctx context.Context, t vault.Transfer) error {
	err := i.next.Transfer(ctx, t)
	observability.Ledger().RecordTransfer(t.Asset, t.Amount, err)
	return err
}
