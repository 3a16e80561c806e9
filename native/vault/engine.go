package vault

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	nativecommon "vaultledger/native/common"
)

const moduleName = "vault"

// State is the durable record store consumed by the engine. Lookups of
// missing records return (nil, nil).
type State interface {
	GetVault(ctx context.Context, id string) (*VaultRecord, error)
	PutVault(ctx context.Context, vault *VaultRecord) error
	GetUserRecord(ctx context.Context, vaultID, user string) (*UserRecord, error)
	// Commit persists the vault and user records together.
	Commit(ctx context.Context, vault *VaultRecord, user *UserRecord) error
}

// Ledger moves the pool asset between holdings. Each call is all-or-nothing.
type Ledger interface {
	Transfer(ctx context.Context, transfer Transfer) error
}

// Engine applies vault operations. It keeps no state between calls; callers
// must serialise operations that touch the same vault.
type Engine struct {
	state  State
	ledger Ledger
	cfg    Config
	pauses nativecommon.PauseView
	newID  func() string
}

// NewEngine constructs an engine with the supplied module configuration.
func NewEngine(cfg Config) *Engine {
	cfg.EnsureDefaults()
	e := &Engine{cfg: cfg, newID: uuid.NewString}
	if cfg.Paused {
		e.pauses = nativecommon.NewPauseSet(moduleName)
	}
	return e
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetLedger wires the engine to the transfer collaborator.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetPauses wires the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Config returns the module configuration in use.
func (e *Engine) Config() Config {
	if e == nil {
		return DefaultConfig()
	}
	return e.cfg
}

// CreateVault validates the parameters and stores a fresh vault record. No
// funds move.
func (e *Engine) CreateVault(ctx context.Context, params CreateVaultParams) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return "", err
	}
	if err := validateVaultParams(params.InterestRate, params.BorrowLimitFraction); err != nil {
		return "", err
	}
	asset := strings.ToLower(strings.TrimSpace(params.Asset))
	if asset == "" || strings.Contains(asset, "/") {
		return "", ErrInvalidAsset
	}

	vault := &VaultRecord{
		ID:                  e.newID(),
		Asset:               asset,
		TotalDeposits:       0,
		InterestRate:        params.InterestRate,
		BorrowLimitFraction: params.BorrowLimitFraction,
		RewardFactor:        1,
	}
	if err := e.state.PutVault(ctx, vault); err != nil {
		return "", err
	}
	return vault.ID, nil
}

// validateVaultParams checks the rate upper bound, rate lower bound, limit
// upper bound and limit lower bound, in that order.
func validateVaultParams(rate, limit float64) error {
	if !validFraction(rate) {
		return ErrInterestRateOutOfBounds
	}
	if !validFraction(limit) {
		return ErrBorrowMaxOutOfBounds
	}
	return nil
}

// Deposit moves amount from the user's holding into the vault and advances
// the reward factor using the pre-deposit pool size.
func (e *Engine) Deposit(ctx context.Context, vaultID, user string, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	user, err := normalizeUser(user)
	if err != nil {
		return err
	}
	vault, err := e.loadVault(ctx, vaultID)
	if err != nil {
		return err
	}
	position, err := e.ensureUserRecord(ctx, vault.ID, user)
	if err != nil {
		return err
	}

	userDeposits, err := addU64(position.TotalDeposits, amount)
	if err != nil {
		return err
	}
	ratio, err := rewardRatio(vault)
	if err != nil {
		return err
	}
	if ratio == 0 {
		ratio = RewardRatioFallback
	}
	vaultDeposits, err := addU64(vault.TotalDeposits, amount)
	if err != nil {
		return err
	}
	factor := vault.RewardFactor + ratio*float64(amount)
	if math.IsInf(factor, 0) || math.IsNaN(factor) {
		return ErrArithmeticOverflow
	}

	if err := e.transfer(ctx, Transfer{
		Asset:     vault.Asset,
		From:      UserHolding(vault.Asset, user),
		To:        PrincipalHolding(vault.ID),
		Authority: user,
		Amount:    amount,
	}); err != nil {
		return err
	}

	position.TotalDeposits = userDeposits
	vault.TotalDeposits = vaultDeposits
	vault.RewardFactor = factor
	return e.state.Commit(ctx, vault, position)
}

// Borrow disburses amount from the vault to the user when the result stays
// within the user's borrow ceiling, and records principal plus interest owed.
func (e *Engine) Borrow(ctx context.Context, vaultID, user string, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	user, err := normalizeUser(user)
	if err != nil {
		return err
	}
	vault, err := e.loadVault(ctx, vaultID)
	if err != nil {
		return err
	}
	position, err := e.loadUserRecord(ctx, vault.ID, user)
	if err != nil {
		return err
	}

	ceiling, err := ScaleByRate(position.TotalDeposits, vault.BorrowLimitFraction)
	if err != nil {
		return err
	}
	borrowsAfter, err := addU64(position.TotalBorrows, amount)
	if err != nil {
		return ErrCannotBorrowOverMax
	}
	if borrowsAfter > ceiling {
		return ErrCannotBorrowOverMax
	}
	interest, err := ScaleByRate(amount, vault.InterestRate)
	if err != nil {
		return err
	}
	owed, err := addU64(amount, interest)
	if err != nil {
		return err
	}
	repayAfter, err := addU64(position.AmountToRepay, owed)
	if err != nil {
		return err
	}

	if err := e.transfer(ctx, Transfer{
		Asset:     vault.Asset,
		From:      PrincipalHolding(vault.ID),
		To:        UserHolding(vault.Asset, user),
		Authority: VaultAuthority(vault.ID),
		Amount:    amount,
	}); err != nil {
		return err
	}

	position.TotalBorrows = borrowsAfter
	position.AmountToRepay = repayAfter
	return e.state.Commit(ctx, vault, position)
}

// Repay splits amount between the principal and reward holdings according to
// the configured split policy and reduces the user's debt.
func (e *Engine) Repay(ctx context.Context, vaultID, user string, amount uint64) (RepayResult, error) {
	if err := e.ready(); err != nil {
		return RepayResult{}, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return RepayResult{}, err
	}
	if amount == 0 {
		return RepayResult{}, ErrInvalidAmount
	}
	user, err := normalizeUser(user)
	if err != nil {
		return RepayResult{}, err
	}
	vault, err := e.loadVault(ctx, vaultID)
	if err != nil {
		return RepayResult{}, err
	}
	position, err := e.loadUserRecord(ctx, vault.ID, user)
	if err != nil {
		return RepayResult{}, err
	}
	if amount > position.AmountToRepay {
		return RepayResult{}, ErrRepayExceedsDebt
	}

	split, err := e.splitRepayment(vault, position, amount)
	if err != nil {
		return RepayResult{}, err
	}
	owedAfter, err := subU64(position.AmountToRepay, amount)
	if err != nil {
		return RepayResult{}, err
	}
	principalReduction, err := e.principalReduction(position, split, amount)
	if err != nil {
		return RepayResult{}, err
	}
	// Borrows never exceed what is still owed.
	borrowsAfter := min(position.TotalBorrows-principalReduction, owedAfter)

	toVault := Transfer{
		Asset:     vault.Asset,
		From:      UserHolding(vault.Asset, user),
		To:        PrincipalHolding(vault.ID),
		Authority: user,
		Amount:    split.ToVault,
	}
	toRewards := Transfer{
		Asset:     vault.Asset,
		From:      UserHolding(vault.Asset, user),
		To:        RewardHolding(vault.ID),
		Authority: user,
		Amount:    split.ToRewards,
	}
	undo := Transfer{
		Asset:     vault.Asset,
		From:      PrincipalHolding(vault.ID),
		To:        UserHolding(vault.Asset, user),
		Authority: VaultAuthority(vault.ID),
		Amount:    split.ToVault,
	}
	if err := e.settle(ctx, ErrPartialRepay, vault.ID, user, toVault, toRewards, undo); err != nil {
		return RepayResult{}, err
	}

	position.AmountToRepay = owedAfter
	position.TotalBorrows = borrowsAfter
	if err := e.state.Commit(ctx, vault, position); err != nil {
		return RepayResult{}, err
	}
	return split, nil
}

func (e *Engine) splitRepayment(vault *VaultRecord, position *UserRecord, amount uint64) (RepayResult, error) {
	interestOutstanding, err := subU64(position.AmountToRepay, position.TotalBorrows)
	if err != nil {
		return RepayResult{}, err
	}
	var rewards uint64
	switch e.cfg.RepaySplit {
	case RepaySplitRate:
		rewards, err = ScaleByRate(amount, vault.InterestRate)
		if err != nil {
			return RepayResult{}, err
		}
		rewards = min(rewards, interestOutstanding, amount)
	default:
		rewards, err = mulDivFloor(amount, interestOutstanding, position.AmountToRepay)
		if err != nil {
			return RepayResult{}, err
		}
	}
	return RepayResult{ToVault: amount - rewards, ToRewards: rewards}, nil
}

// principalReduction is the part of a repayment booked against borrows. The
// outstanding split takes the floor of the principal share so rounding
// favours the vault.
func (e *Engine) principalReduction(position *UserRecord, split RepayResult, amount uint64) (uint64, error) {
	if e.cfg.RepaySplit == RepaySplitRate {
		return min(split.ToVault, position.TotalBorrows), nil
	}
	return mulDivFloor(amount, position.TotalBorrows, position.AmountToRepay)
}

// Withdraw returns amount of principal plus the reward share implied by the
// current reward factor. Users with outstanding borrows or unpaid interest
// cannot withdraw.
func (e *Engine) Withdraw(ctx context.Context, vaultID, user string, amount uint64) (WithdrawResult, error) {
	if err := e.ready(); err != nil {
		return WithdrawResult{}, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return WithdrawResult{}, err
	}
	if amount == 0 {
		return WithdrawResult{}, ErrInvalidAmount
	}
	user, err := normalizeUser(user)
	if err != nil {
		return WithdrawResult{}, err
	}
	vault, err := e.loadVault(ctx, vaultID)
	if err != nil {
		return WithdrawResult{}, err
	}
	position, err := e.loadUserRecord(ctx, vault.ID, user)
	if err != nil {
		return WithdrawResult{}, err
	}
	if position.TotalBorrows != 0 || position.AmountToRepay != 0 {
		return WithdrawResult{}, ErrWithdrawWithBorrows
	}
	if amount > position.TotalDeposits || amount > vault.TotalDeposits {
		return WithdrawResult{}, ErrInsufficientDeposits
	}

	ratio, err := rewardRatio(vault)
	if err != nil {
		return WithdrawResult{}, err
	}
	reward, err := DivideByRatio(amount, ratio)
	if err != nil {
		return WithdrawResult{}, err
	}
	vaultAfter := vault.TotalDeposits - amount
	userAfter := position.TotalDeposits - amount

	principal := Transfer{
		Asset:     vault.Asset,
		From:      PrincipalHolding(vault.ID),
		To:        UserHolding(vault.Asset, user),
		Authority: VaultAuthority(vault.ID),
		Amount:    amount,
	}
	rewards := Transfer{
		Asset:     vault.Asset,
		From:      RewardHolding(vault.ID),
		To:        UserHolding(vault.Asset, user),
		Authority: VaultAuthority(vault.ID),
		Amount:    reward,
	}
	undo := Transfer{
		Asset:     vault.Asset,
		From:      UserHolding(vault.Asset, user),
		To:        PrincipalHolding(vault.ID),
		Authority: user,
		Amount:    amount,
	}
	if err := e.settle(ctx, ErrPartialWithdraw, vault.ID, user, principal, rewards, undo); err != nil {
		return WithdrawResult{}, err
	}

	vault.TotalDeposits = vaultAfter
	position.TotalDeposits = userAfter
	if err := e.state.Commit(ctx, vault, position); err != nil {
		return WithdrawResult{}, err
	}
	return WithdrawResult{Principal: amount, Reward: reward}, nil
}

// Vault returns a snapshot of the vault record.
func (e *Engine) Vault(ctx context.Context, vaultID string) (*VaultRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadVault(ctx, vaultID)
}

// Position returns a snapshot of the user's record in the vault.
func (e *Engine) Position(ctx context.Context, vaultID, user string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	user, err := normalizeUser(user)
	if err != nil {
		return nil, err
	}
	vault, err := e.loadVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	return e.loadUserRecord(ctx, vault.ID, user)
}

// BorrowCeiling returns how much more the user may borrow right now.
func (e *Engine) BorrowCeiling(ctx context.Context, vaultID, user string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	user, err := normalizeUser(user)
	if err != nil {
		return 0, err
	}
	vault, err := e.loadVault(ctx, vaultID)
	if err != nil {
		return 0, err
	}
	position, err := e.loadUserRecord(ctx, vault.ID, user)
	if err != nil {
		return 0, err
	}
	ceiling, err := ScaleByRate(position.TotalDeposits, vault.BorrowLimitFraction)
	if err != nil {
		return 0, err
	}
	if position.TotalBorrows >= ceiling {
		return 0, nil
	}
	return ceiling - position.TotalBorrows, nil
}

// settle runs a two-leg settlement. When the second leg fails the first is
// reversed; if the reversal also fails a PartialTransferError of kind is
// returned.
func (e *Engine) settle(ctx context.Context, kind error, vaultID, user string, first, second, undo Transfer) error {
	if err := e.transfer(ctx, first); err != nil {
		return err
	}
	err := e.transfer(ctx, second)
	if err == nil {
		return nil
	}
	if first.Amount == 0 {
		return err
	}
	if compErr := e.transfer(ctx, undo); compErr != nil {
		return &PartialTransferError{
			Kind:         kind,
			VaultID:      vaultID,
			User:         user,
			Completed:    first,
			Failed:       second,
			Cause:        err,
			Compensation: compErr,
		}
	}
	return err
}

func (e *Engine) transfer(ctx context.Context, t Transfer) error {
	if t.Amount == 0 {
		return nil
	}
	if err := e.ledger.Transfer(ctx, t); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) loadVault(ctx context.Context, vaultID string) (*VaultRecord, error) {
	id := strings.TrimSpace(vaultID)
	if id == "" {
		return nil, ErrVaultNotFound
	}
	vault, err := e.state.GetVault(ctx, id)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		return nil, ErrVaultNotFound
	}
	return vault, nil
}

func (e *Engine) loadUserRecord(ctx context.Context, vaultID, user string) (*UserRecord, error) {
	position, err := e.state.GetUserRecord(ctx, vaultID, user)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	return position, nil
}

func (e *Engine) ensureUserRecord(ctx context.Context, vaultID, user string) (*UserRecord, error) {
	position, err := e.state.GetUserRecord(ctx, vaultID, user)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &UserRecord{VaultID: vaultID, User: user}
	}
	return position, nil
}

// rewardRatio returns TotalDeposits / RewardFactor, refusing to divide by a
// non-positive factor.
func rewardRatio(vault *VaultRecord) (float64, error) {
	if !(vault.RewardFactor > 0) {
		return 0, ErrDivisionByZero
	}
	return Ratio(vault.TotalDeposits, vault.RewardFactor), nil
}

func normalizeUser(user string) (string, error) {
	trimmed := strings.TrimSpace(user)
	if trimmed == "" {
		return "", ErrInvalidUser
	}
	return trimmed, nil
}
