package vault

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	nativecommon "vaultledger/native/common"
)

type mockState struct {
	vaults  map[string]*VaultRecord
	users   map[string]*UserRecord
	commits int
}

func newMockState() *mockState {
	return &mockState{vaults: make(map[string]*VaultRecord), users: make(map[string]*UserRecord)}
}

func (m *mockState) userKey(vaultID, user string) string { return vaultID + "|" + user }

func (m *mockState) GetVault(_ context.Context, id string) (*VaultRecord, error) {
	return m.vaults[id].Clone(), nil
}

func (m *mockState) PutVault(_ context.Context, vault *VaultRecord) error {
	m.vaults[vault.ID] = vault.Clone()
	return nil
}

func (m *mockState) GetUserRecord(_ context.Context, vaultID, user string) (*UserRecord, error) {
	return m.users[m.userKey(vaultID, user)].Clone(), nil
}

func (m *mockState) Commit(_ context.Context, vault *VaultRecord, user *UserRecord) error {
	m.vaults[vault.ID] = vault.Clone()
	m.users[m.userKey(user.VaultID, user.User)] = user.Clone()
	m.commits++
	return nil
}

// mockLedger enforces that user holdings are spent by their owner and vault
// holdings by the vault authority.
type mockLedger struct {
	balances map[string]uint64
	fail     func(Transfer) error
	calls    []Transfer
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[string]uint64)}
}

func (l *mockLedger) Transfer(_ context.Context, t Transfer) error {
	l.calls = append(l.calls, t)
	if l.fail != nil {
		if err := l.fail(t); err != nil {
			return err
		}
	}
	switch {
	case strings.HasPrefix(t.From, "user/"):
		if !strings.HasSuffix(t.From, "/"+t.Authority) {
			return fmt.Errorf("authority %s cannot spend %s", t.Authority, t.From)
		}
	case !strings.HasPrefix(t.From, t.Authority+"/"):
		return fmt.Errorf("authority %s cannot spend %s", t.Authority, t.From)
	}
	if l.balances[t.From] < t.Amount {
		return fmt.Errorf("insufficient balance in %s", t.From)
	}
	l.balances[t.From] -= t.Amount
	l.balances[t.To] += t.Amount
	return nil
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	return s.modules[module]
}

type fixture struct {
	engine *Engine
	state  *mockState
	ledger *mockLedger
	vault  string
}

func newFixture(t *testing.T, cfg Config, rate, limit float64) *fixture {
	t.Helper()
	state := newMockState()
	ledger := newMockLedger()
	engine := NewEngine(cfg)
	engine.SetState(state)
	engine.SetLedger(ledger)
	id, err := engine.CreateVault(context.Background(), CreateVaultParams{Asset: "USDC", InterestRate: rate, BorrowLimitFraction: limit})
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	return &fixture{engine: engine, state: state, ledger: ledger, vault: id}
}

func (f *fixture) fund(holding string, amount uint64) {
	f.ledger.balances[holding] += amount
}

func (f *fixture) userHolding(user string) string { return UserHolding("usdc", user) }

func TestCreateVaultValidParameters(t *testing.T) {
	ctx := context.Background()
	for _, params := range [][2]float64{{0, 0}, {1, 1}, {0.05, 0.75}, {1, 0}, {0, 1}} {
		state := newMockState()
		engine := NewEngine(DefaultConfig())
		engine.SetState(state)
		engine.SetLedger(newMockLedger())

		id, err := engine.CreateVault(ctx, CreateVaultParams{Asset: "usdc", InterestRate: params[0], BorrowLimitFraction: params[1]})
		if err != nil {
			t.Fatalf("params %v: unexpected error %v", params, err)
		}
		vault := state.vaults[id]
		if vault == nil {
			t.Fatalf("params %v: vault not stored", params)
		}
		if vault.TotalDeposits != 0 || vault.RewardFactor != 1 {
			t.Fatalf("params %v: unexpected initial record %+v", params, vault)
		}
		if vault.InterestRate != params[0] || vault.BorrowLimitFraction != params[1] {
			t.Fatalf("params %v: parameters not stored verbatim: %+v", params, vault)
		}
	}
}

func TestCreateVaultRejectsOutOfBounds(t *testing.T) {
	cases := []struct {
		name  string
		rate  float64
		limit float64
		want  error
	}{
		{name: "rate above one", rate: 1.01, limit: 0.5, want: ErrInterestRateOutOfBounds},
		{name: "rate negative", rate: -0.01, limit: 0.5, want: ErrInterestRateOutOfBounds},
		{name: "rate NaN", rate: math.NaN(), limit: 0.5, want: ErrInterestRateOutOfBounds},
		{name: "limit above one", rate: 0.1, limit: 1.5, want: ErrBorrowMaxOutOfBounds},
		{name: "limit negative", rate: 0.1, limit: -1, want: ErrBorrowMaxOutOfBounds},
		{name: "both invalid reports rate first", rate: 2, limit: -1, want: ErrInterestRateOutOfBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := newMockState()
			engine := NewEngine(DefaultConfig())
			engine.SetState(state)
			engine.SetLedger(newMockLedger())
			_, err := engine.CreateVault(context.Background(), CreateVaultParams{Asset: "usdc", InterestRate: tc.rate, BorrowLimitFraction: tc.limit})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(state.vaults) != 0 {
				t.Fatalf("expected no vault to be stored, got %d", len(state.vaults))
			}
		})
	}
}

func TestCreateVaultRequiresAsset(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	engine.SetState(newMockState())
	engine.SetLedger(newMockLedger())
	// A slash in the asset would let two (asset, user) pairs share a holding.
	for _, asset := range []string{"  ", "a/b", "/usdc"} {
		if _, err := engine.CreateVault(context.Background(), CreateVaultParams{Asset: asset, InterestRate: 0.1, BorrowLimitFraction: 0.5}); !errors.Is(err, ErrInvalidAsset) {
			t.Fatalf("asset %q: expected ErrInvalidAsset, got %v", asset, err)
		}
	}
}

func TestDepositAccumulates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.fund(f.userHolding("alice"), 1000)

	if err := f.engine.Deposit(ctx, f.vault, "alice", 100); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	vault := f.state.vaults[f.vault]
	// Empty pool: ratio is zero so the fallback applies.
	if want := 1 + RewardRatioFallback*100; vault.RewardFactor != want {
		t.Fatalf("expected reward factor %v, got %v", want, vault.RewardFactor)
	}
	factorAfterFirst := vault.RewardFactor

	if err := f.engine.Deposit(ctx, f.vault, "alice", 50); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	vault = f.state.vaults[f.vault]
	user := f.state.users[f.state.userKey(f.vault, "alice")]
	if user.TotalDeposits != 150 {
		t.Fatalf("expected user deposits 150, got %d", user.TotalDeposits)
	}
	if vault.TotalDeposits != 150 {
		t.Fatalf("expected vault deposits 150, got %d", vault.TotalDeposits)
	}
	wantFactor := factorAfterFirst + Ratio(100, factorAfterFirst)*50
	if vault.RewardFactor != wantFactor {
		t.Fatalf("expected reward factor %v, got %v", wantFactor, vault.RewardFactor)
	}
	if got := f.ledger.balances[PrincipalHolding(f.vault)]; got != 150 {
		t.Fatalf("expected principal holding 150, got %d", got)
	}
	if got := f.ledger.balances[f.userHolding("alice")]; got != 850 {
		t.Fatalf("expected user balance 850, got %d", got)
	}
}

func TestDepositRejectsZeroAndUnknownVault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	if err := f.engine.Deposit(ctx, f.vault, "alice", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := f.engine.Deposit(ctx, "missing", "alice", 10); !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("expected ErrVaultNotFound, got %v", err)
	}
	if err := f.engine.Deposit(ctx, f.vault, " ", 10); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if len(f.ledger.calls) != 0 {
		t.Fatalf("expected no transfers, got %d", len(f.ledger.calls))
	}
}

func TestDepositTransferFailureLeavesRecordsUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.fund(f.userHolding("alice"), 10)

	err := f.engine.Deposit(ctx, f.vault, "alice", 50)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if f.state.commits != 0 {
		t.Fatalf("expected no commit, got %d", f.state.commits)
	}
	if vault := f.state.vaults[f.vault]; vault.TotalDeposits != 0 || vault.RewardFactor != 1 {
		t.Fatalf("vault mutated after failed transfer: %+v", vault)
	}
}

func TestDepositOverflowCheckedBeforeTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.state.vaults[f.vault].TotalDeposits = math.MaxUint64
	f.fund(f.userHolding("alice"), 10)

	if err := f.engine.Deposit(ctx, f.vault, "alice", 10); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if len(f.ledger.calls) != 0 {
		t.Fatalf("expected no transfer, got %d", len(f.ledger.calls))
	}
}

func TestBorrowCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.fund(f.userHolding("alice"), 1000)
	if err := f.engine.Deposit(ctx, f.vault, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if avail, err := f.engine.BorrowCeiling(ctx, f.vault, "alice"); err != nil || avail != 500 {
		t.Fatalf("expected 500 available, got %d, %v", avail, err)
	}
	if err := f.engine.Borrow(ctx, f.vault, "alice", 500); err != nil {
		t.Fatalf("borrow at ceiling: %v", err)
	}
	calls := len(f.ledger.calls)
	if err := f.engine.Borrow(ctx, f.vault, "alice", 1); !errors.Is(err, ErrCannotBorrowOverMax) {
		t.Fatalf("expected ErrCannotBorrowOverMax, got %v", err)
	}
	if len(f.ledger.calls) != calls {
		t.Fatalf("over-limit borrow must not move funds")
	}

	user := f.state.users[f.state.userKey(f.vault, "alice")]
	if user.TotalBorrows != 500 {
		t.Fatalf("expected borrows 500, got %d", user.TotalBorrows)
	}
	if user.AmountToRepay != 550 {
		t.Fatalf("expected amount to repay 550, got %d", user.AmountToRepay)
	}
	if got := f.ledger.balances[f.userHolding("alice")]; got != 500 {
		t.Fatalf("expected user to hold the 500 borrowed, got %d", got)
	}
	if last := f.ledger.calls[len(f.ledger.calls)-1]; last.Authority != VaultAuthority(f.vault) {
		t.Fatalf("expected disbursement signed by vault authority, got %s", last.Authority)
	}
	if avail, err := f.engine.BorrowCeiling(ctx, f.vault, "alice"); err != nil || avail != 0 {
		t.Fatalf("expected nothing left to borrow, got %d, %v", avail, err)
	}
}

func TestBorrowWithoutPosition(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	if err := f.engine.Borrow(context.Background(), f.vault, "bob", 1); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

// borrowFixture deposits 1000 and borrows 100 at a 10% rate, so 110 is owed.
func borrowFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	f := newFixture(t, cfg, 0.1, 0.5)
	f.fund(f.userHolding("alice"), 1000)
	if err := f.engine.Deposit(ctx, f.vault, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Borrow(ctx, f.vault, "alice", 100); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.fund(f.userHolding("alice"), 10)
	return f
}

func TestRepayReducesExactly(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, DefaultConfig())

	result, err := f.engine.Repay(ctx, f.vault, "alice", 110)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if result.ToVault+result.ToRewards != 110 {
		t.Fatalf("split does not sum to amount: %+v", result)
	}
	if result.ToVault != 100 || result.ToRewards != 10 {
		t.Fatalf("unexpected split %+v", result)
	}
	user := f.state.users[f.state.userKey(f.vault, "alice")]
	if user.TotalBorrows != 0 || user.AmountToRepay != 0 {
		t.Fatalf("expected debt cleared, got %+v", user)
	}
	if got := f.ledger.balances[RewardHolding(f.vault)]; got != 10 {
		t.Fatalf("expected reward holding 10, got %d", got)
	}
	if got := f.ledger.balances[PrincipalHolding(f.vault)]; got != 1000 {
		t.Fatalf("expected principal holding restored to 1000, got %d", got)
	}
}

func TestRepayPartialKeepsInterestProportion(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, DefaultConfig())

	result, err := f.engine.Repay(ctx, f.vault, "alice", 55)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if result.ToVault != 50 || result.ToRewards != 5 {
		t.Fatalf("unexpected split %+v", result)
	}
	user := f.state.users[f.state.userKey(f.vault, "alice")]
	if user.TotalBorrows != 50 || user.AmountToRepay != 55 {
		t.Fatalf("unexpected position %+v", user)
	}

	result, err = f.engine.Repay(ctx, f.vault, "alice", 55)
	if err != nil {
		t.Fatalf("second repay: %v", err)
	}
	if result.ToVault != 50 || result.ToRewards != 5 {
		t.Fatalf("unexpected second split %+v", result)
	}
	user = f.state.users[f.state.userKey(f.vault, "alice")]
	if user.TotalBorrows != 0 || user.AmountToRepay != 0 {
		t.Fatalf("expected debt cleared, got %+v", user)
	}
}

func TestRepayInUnitStepsKeepsInterestOwed(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, DefaultConfig())
	key := f.state.userKey(f.vault, "alice")

	for i := 0; i < 100; i++ {
		if _, err := f.engine.Repay(ctx, f.vault, "alice", 1); err != nil {
			t.Fatalf("repay %d: %v", i, err)
		}
		if user := f.state.users[key]; user.TotalBorrows > user.AmountToRepay {
			t.Fatalf("repay %d: borrows exceed amount owed: %+v", i, user)
		}
	}
	user := f.state.users[key]
	if user.AmountToRepay != 10 || user.TotalBorrows != 10 {
		t.Fatalf("expected 10 still owed against 10 borrowed, got %+v", user)
	}
	if _, err := f.engine.Withdraw(ctx, f.vault, "alice", 1000); !errors.Is(err, ErrWithdrawWithBorrows) {
		t.Fatalf("expected ErrWithdrawWithBorrows, got %v", err)
	}

	if _, err := f.engine.Repay(ctx, f.vault, "alice", 10); err != nil {
		t.Fatalf("final repay: %v", err)
	}
	user = f.state.users[key]
	if user.TotalBorrows != 0 || user.AmountToRepay != 0 {
		t.Fatalf("expected debt cleared, got %+v", user)
	}
}

func TestWithdrawBlockedByUnpaidInterest(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, DefaultConfig())
	f.fund(RewardHolding(f.vault), 1000)
	key := f.state.userKey(f.vault, "alice")
	f.state.users[key].TotalBorrows = 0
	f.state.users[key].AmountToRepay = 5
	calls := len(f.ledger.calls)

	if _, err := f.engine.Withdraw(ctx, f.vault, "alice", 10); !errors.Is(err, ErrWithdrawWithBorrows) {
		t.Fatalf("expected ErrWithdrawWithBorrows, got %v", err)
	}
	if len(f.ledger.calls) != calls {
		t.Fatalf("rejected withdrawal must not move funds")
	}
}

func TestRepayRateSplit(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, Config{RepaySplit: RepaySplitRate})

	result, err := f.engine.Repay(ctx, f.vault, "alice", 55)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if result.ToRewards != 5 || result.ToVault != 50 {
		t.Fatalf("unexpected split %+v", result)
	}
}

func TestRepayRateSplitCappedAtInterest(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, Config{RepaySplit: RepaySplitRate})

	// The first 100 routes all 10 of interest to rewards, so the final 10 is
	// principal only.
	if _, err := f.engine.Repay(ctx, f.vault, "alice", 100); err != nil {
		t.Fatalf("repay: %v", err)
	}
	user := f.state.users[f.state.userKey(f.vault, "alice")]
	if user.TotalBorrows != 10 || user.AmountToRepay != 10 {
		t.Fatalf("unexpected position %+v", user)
	}
	result, err := f.engine.Repay(ctx, f.vault, "alice", 10)
	if err != nil {
		t.Fatalf("final repay: %v", err)
	}
	if result.ToRewards != 0 || result.ToVault != 10 {
		t.Fatalf("unexpected split %+v", result)
	}
}

func TestRepayRejectsOverpayment(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, DefaultConfig())
	calls := len(f.ledger.calls)
	if _, err := f.engine.Repay(ctx, f.vault, "alice", 111); !errors.Is(err, ErrRepayExceedsDebt) {
		t.Fatalf("expected ErrRepayExceedsDebt, got %v", err)
	}
	if _, err := f.engine.Repay(ctx, f.vault, "alice", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if len(f.ledger.calls) != calls {
		t.Fatalf("rejected repayments must not move funds")
	}
}

func TestRepaySecondLegFailureCompensates(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, DefaultConfig())
	rewards := RewardHolding(f.vault)
	f.ledger.fail = func(t Transfer) error {
		if t.To == rewards {
			return errors.New("reward holding frozen")
		}
		return nil
	}
	before := f.state.users[f.state.userKey(f.vault, "alice")].Clone()
	userBalance := f.ledger.balances[f.userHolding("alice")]

	_, err := f.engine.Repay(ctx, f.vault, "alice", 110)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if errors.Is(err, ErrPartialRepay) {
		t.Fatalf("compensated failure must not report a partial repay: %v", err)
	}
	if got := f.ledger.balances[f.userHolding("alice")]; got != userBalance {
		t.Fatalf("expected user balance restored to %d, got %d", userBalance, got)
	}
	if after := f.state.users[f.state.userKey(f.vault, "alice")]; *after != *before {
		t.Fatalf("position changed: before %+v after %+v", before, after)
	}
}

func TestRepayCompensationFailureReportsPartial(t *testing.T) {
	ctx := context.Background()
	f := borrowFixture(t, DefaultConfig())
	rewards := RewardHolding(f.vault)
	principal := PrincipalHolding(f.vault)
	f.ledger.fail = func(t Transfer) error {
		if t.To == rewards || t.From == principal {
			return errors.New("ledger offline")
		}
		return nil
	}
	before := f.state.users[f.state.userKey(f.vault, "alice")].Clone()

	_, err := f.engine.Repay(ctx, f.vault, "alice", 110)
	if !errors.Is(err, ErrPartialRepay) {
		t.Fatalf("expected ErrPartialRepay, got %v", err)
	}
	var partial *PartialTransferError
	if !errors.As(err, &partial) {
		t.Fatalf("expected *PartialTransferError, got %T", err)
	}
	if partial.Completed.Amount != 100 || partial.Failed.Amount != 10 {
		t.Fatalf("unexpected partial detail %+v", partial)
	}
	if after := f.state.users[f.state.userKey(f.vault, "alice")]; *after != *before {
		t.Fatalf("position changed: before %+v after %+v", before, after)
	}
}

func TestWithdrawBlockedWhileBorrowing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.fund(f.userHolding("alice"), 1000)
	f.fund(RewardHolding(f.vault), 1000)
	if err := f.engine.Deposit(ctx, f.vault, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Borrow(ctx, f.vault, "alice", 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := f.engine.Withdraw(ctx, f.vault, "alice", 10); !errors.Is(err, ErrWithdrawWithBorrows) {
		t.Fatalf("expected ErrWithdrawWithBorrows, got %v", err)
	}
	if _, err := f.engine.Repay(ctx, f.vault, "alice", 1); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if user := f.state.users[f.state.userKey(f.vault, "alice")]; user.TotalBorrows != 0 {
		t.Fatalf("expected borrows cleared, got %+v", user)
	}
	if _, err := f.engine.Withdraw(ctx, f.vault, "alice", 10); err != nil {
		t.Fatalf("withdraw after repay: %v", err)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.fund(f.userHolding("alice"), 1000)
	f.fund(RewardHolding(f.vault), 5000)
	if err := f.engine.Deposit(ctx, f.vault, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	vault := f.state.vaults[f.vault]
	wantReward, err := DivideByRatio(1000, Ratio(vault.TotalDeposits, vault.RewardFactor))
	if err != nil {
		t.Fatalf("expected reward: %v", err)
	}

	result, err := f.engine.Withdraw(ctx, f.vault, "alice", 1000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if result.Principal != 1000 || result.Reward != wantReward {
		t.Fatalf("expected principal 1000 reward %d, got %+v", wantReward, result)
	}
	if got := f.state.vaults[f.vault].TotalDeposits; got != 0 {
		t.Fatalf("expected vault deposits 0, got %d", got)
	}
	if user := f.state.users[f.state.userKey(f.vault, "alice")]; !user.Closed() {
		t.Fatalf("expected closed position, got %+v", user)
	}
	if got := f.ledger.balances[f.userHolding("alice")]; got != 1000+wantReward {
		t.Fatalf("expected user balance %d, got %d", 1000+wantReward, got)
	}
}

func TestWithdrawRejectsExcessAndZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.fund(f.userHolding("alice"), 100)
	if err := f.engine.Deposit(ctx, f.vault, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.Withdraw(ctx, f.vault, "alice", 101); !errors.Is(err, ErrInsufficientDeposits) {
		t.Fatalf("expected ErrInsufficientDeposits, got %v", err)
	}
	if _, err := f.engine.Withdraw(ctx, f.vault, "alice", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestWithdrawZeroRatioIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.state.users[f.state.userKey(f.vault, "alice")] = &UserRecord{VaultID: f.vault, User: "alice", TotalDeposits: 10}
	f.state.vaults[f.vault].TotalDeposits = 10
	f.state.vaults[f.vault].RewardFactor = 0

	if _, err := f.engine.Withdraw(ctx, f.vault, "alice", 10); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	if len(f.ledger.calls) != 0 {
		t.Fatalf("expected no transfers")
	}
}

func TestWithdrawCompensation(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) *fixture {
		f := newFixture(t, DefaultConfig(), 0.1, 0.5)
		f.fund(f.userHolding("alice"), 1000)
		if err := f.engine.Deposit(ctx, f.vault, "alice", 1000); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		return f
	}

	t.Run("compensated", func(t *testing.T) {
		f := setup(t)
		// Reward holding is unfunded so the second leg fails.
		_, err := f.engine.Withdraw(ctx, f.vault, "alice", 1000)
		if !errors.Is(err, ErrTransferFailed) || errors.Is(err, ErrPartialWithdraw) {
			t.Fatalf("expected plain ErrTransferFailed, got %v", err)
		}
		if got := f.ledger.balances[PrincipalHolding(f.vault)]; got != 1000 {
			t.Fatalf("expected principal restored, got %d", got)
		}
		if got := f.state.vaults[f.vault].TotalDeposits; got != 1000 {
			t.Fatalf("expected vault deposits untouched, got %d", got)
		}
	})

	t.Run("partial", func(t *testing.T) {
		f := setup(t)
		principal := PrincipalHolding(f.vault)
		f.ledger.fail = func(t Transfer) error {
			if t.To == principal {
				return errors.New("principal holding locked")
			}
			return nil
		}
		_, err := f.engine.Withdraw(ctx, f.vault, "alice", 1000)
		if !errors.Is(err, ErrPartialWithdraw) {
			t.Fatalf("expected ErrPartialWithdraw, got %v", err)
		}
		if got := f.state.users[f.state.userKey(f.vault, "alice")].TotalDeposits; got != 1000 {
			t.Fatalf("expected position untouched, got %d", got)
		}
	})
}

func TestEngineGuardBlocksMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig(), 0.1, 0.5)
	f.fund(f.userHolding("alice"), 100)
	f.engine.SetPauses(stubPauseView{modules: map[string]bool{"vault": true}})

	if err := f.engine.Deposit(ctx, f.vault, "alice", 100); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := f.engine.CreateVault(ctx, CreateVaultParams{Asset: "usdc"}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused on create, got %v", err)
	}
	if _, err := f.engine.Vault(ctx, f.vault); err != nil {
		t.Fatalf("reads must remain available while paused: %v", err)
	}
	if got := f.ledger.balances[f.userHolding("alice")]; got != 100 {
		t.Fatalf("expected balance to remain 100, got %d", got)
	}
}

func TestConfigPausedStartsPaused(t *testing.T) {
	engine := NewEngine(Config{Paused: true})
	engine.SetState(newMockState())
	engine.SetLedger(newMockLedger())
	if _, err := engine.CreateVault(context.Background(), CreateVaultParams{Asset: "usdc"}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestEngineRequiresCollaborators(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	if err := engine.Deposit(context.Background(), "v", "alice", 1); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	engine.SetState(newMockState())
	if err := engine.Deposit(context.Background(), "v", "alice", 1); !errors.Is(err, errNilLedger) {
		t.Fatalf("expected errNilLedger, got %v", err)
	}
}
