// Package client is a thin HTTP client for the vaultd API.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Vault struct {
	ID            string `json:"id"`
	Asset         string `json:"asset"`
	TotalDeposits string `json:"total_deposits"`
	InterestRate  string `json:"interest_rate"`
	BorrowLimit   string `json:"borrow_limit"`
	RewardFactor  string `json:"reward_factor"`
}

type Position struct {
	VaultID           string `json:"vault_id"`
	User              string `json:"user"`
	TotalDeposits     string `json:"total_deposits"`
	TotalBorrows      string `json:"total_borrows"`
	AmountToRepay     string `json:"amount_to_repay"`
	AvailableToBorrow string `json:"available_to_borrow"`
}

type Holding struct {
	ID      string `json:"id"`
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

type RepayResult struct {
	ToVault   string `json:"to_vault"`
	ToRewards string `json:"to_rewards"`
}

type WithdrawResult struct {
	Principal string `json:"principal"`
	Reward    string `json:"reward"`
}

// APIError is a non-2xx response from vaultd.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("vaultd: http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("vaultd: http %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client calls a single vaultd endpoint with an optional bearer token.
type Client struct {
	client *resty.Client
	log    *slog.Logger
}

// New returns a client for baseURL.
func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{client: rc, log: logger}
}

func (c *Client) CreateVault(ctx context.Context, asset, interestRate, borrowLimit string) (*Vault, error) {
	var out Vault
	body := map[string]string{"asset": asset, "interest_rate": interestRate, "borrow_limit": borrowLimit}
	if err := c.do(ctx, http.MethodPost, "/v1/vaults", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetVault(ctx context.Context, vaultID string) (*Vault, error) {
	var out Vault
	params := map[string]string{"vaultID": vaultID}
	if err := c.do(ctx, http.MethodGet, "/v1/vaults/{vaultID}", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPosition(ctx context.Context, vaultID, user string) (*Position, error) {
	var out Position
	params := map[string]string{"vaultID": vaultID, "user": user}
	if err := c.do(ctx, http.MethodGet, "/v1/vaults/{vaultID}/positions/{user}", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Deposit(ctx context.Context, vaultID, user string, amount uint64) error {
	return c.operation(ctx, "deposit", vaultID, user, amount, nil)
}

func (c *Client) Borrow(ctx context.Context, vaultID, user string, amount uint64) error {
	return c.operation(ctx, "borrow", vaultID, user, amount, nil)
}

func (c *Client) Repay(ctx context.Context, vaultID, user string, amount uint64) (*RepayResult, error) {
	var out RepayResult
	if err := c.operation(ctx, "repay", vaultID, user, amount, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Withdraw(ctx context.Context, vaultID, user string, amount uint64) (*WithdrawResult, error) {
	var out WithdrawResult
	if err := c.operation(ctx, "withdraw", vaultID, user, amount, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHolding fetches a ledger holding. Holding IDs contain slashes and are
// sent as a raw path suffix.
func (c *Client) GetHolding(ctx context.Context, holding string) (*Holding, error) {
	var out Holding
	if err := c.do(ctx, http.MethodGet, "/v1/holdings/"+strings.TrimLeft(holding, "/"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Credit(ctx context.Context, holding, asset string, amount uint64) (*Holding, error) {
	var out Holding
	body := map[string]string{"holding": holding, "asset": asset, "amount": strconv.FormatUint(amount, 10)}
	if err := c.do(ctx, http.MethodPost, "/v1/holdings/credit", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetPaused(ctx context.Context, module string, paused bool) error {
	body := map[string]any{"module": module, "paused": paused}
	return c.do(ctx, http.MethodPost, "/v1/admin/pause", nil, body, nil)
}

func (c *Client) operation(ctx context.Context, op, vaultID, user string, amount uint64, out any) error {
	body := map[string]string{"user": user, "amount": strconv.FormatUint(amount, 10)}
	params := map[string]string{"vaultID": vaultID}
	return c.do(ctx, http.MethodPost, "/v1/vaults/{vaultID}/"+op, params, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, body, out any) error {
	apiErr := &APIError{}
	req := c.client.R().SetContext(ctx).SetError(apiErr)
	if params != nil {
		req.SetPathParams(params)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		c.log.Error("vaultd request failed", slog.String("method", method), slog.String("route", path), slog.Any("error", err))
		return err
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		return apiErr
	}
	return nil
}
