package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "vaultledger/native/common"
	"vaultledger/native/vault"
	"vaultledger/observability"
	"vaultledger/services/vaultd/middleware"
	"vaultledger/state/ledger"
)

const maxBodyBytes = 1 << 16

// Holdings is the ledger surface used for funding and balance lookups.
type Holdings interface {
	Credit(ctx context.Context, holding, asset string, amount uint64) (ledger.Holding, error)
	Balance(ctx context.Context, holding string) (ledger.Holding, error)
}

// Config wires the server to its collaborators.
type Config struct {
	Engine        *vault.Engine
	Holdings      Holdings
	Pauses        *nativecommon.PauseSet
	Auth          *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
	ServiceName   string
	// AdminScope guards vault creation, funding and pause control.
	AdminScope string
}

type Server struct {
	engine   *vault.Engine
	holdings Holdings
	pauses   *nativecommon.PauseSet
	auth     *middleware.Authenticator
	limiter  *middleware.RateLimiter
	obs      *middleware.Observability
	logger   *slog.Logger
	locks    *vaultLocks
	admin    string
	router   http.Handler
}

// New constructs the HTTP API.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("server: engine required")
	}
	if cfg.Holdings == nil {
		return nil, fmt.Errorf("server: holdings required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("server: authenticator required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "vaultd"
	}
	if cfg.AdminScope == "" {
		cfg.AdminScope = "vault:admin"
	}
	s := &Server{
		engine:   cfg.Engine,
		holdings: cfg.Holdings,
		pauses:   cfg.Pauses,
		auth:     cfg.Auth,
		limiter:  cfg.RateLimiter,
		obs:      cfg.Observability,
		logger:   cfg.Logger,
		locks:    newVaultLocks(),
		admin:    cfg.AdminScope,
	}
	s.router = otelhttp.NewHandler(s.buildRouter(), cfg.ServiceName)
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.obs != nil {
		r.Use(s.obs.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	admin := s.auth.Middleware(s.admin)
	r.Route("/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Group(func(authed chi.Router) {
			authed.Use(s.auth.Middleware())
			authed.Get("/vaults/{vaultID}", s.getVault)
			authed.Get("/vaults/{vaultID}/positions/{user}", s.getPosition)
			authed.Post("/vaults/{vaultID}/deposit", s.operation("deposit"))
			authed.Post("/vaults/{vaultID}/borrow", s.operation("borrow"))
			authed.Post("/vaults/{vaultID}/repay", s.operation("repay"))
			authed.Post("/vaults/{vaultID}/withdraw", s.operation("withdraw"))
			authed.Get("/holdings/*", s.getHolding)
		})
		api.With(admin).Post("/vaults", s.createVault)
		api.With(admin).Post("/holdings/credit", s.credit)
		api.With(admin).Post("/admin/pause", s.setPause)
	})
	return r
}

func (s *Server) createVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rate, err := parseFraction(req.InterestRate, vault.ErrInterestRateOutOfBounds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := parseFraction(req.BorrowLimit, vault.ErrBorrowMaxOutOfBounds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	start := time.Now()
	id, err := s.engine.CreateVault(r.Context(), vault.CreateVaultParams{
		Asset:               req.Asset,
		InterestRate:        rate,
		BorrowLimitFraction: limit,
	})
	observability.Vault().Observe("create", 0, err, time.Since(start))
	if err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.engine.Vault(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("vault created", slog.String("vault_id", id), slog.String("asset", record.Asset))
	writeJSON(w, http.StatusCreated, toVaultResponse(record))
}

func (s *Server) getVault(w http.ResponseWriter, r *http.Request) {
	record, err := s.engine.Vault(r.Context(), chi.URLParam(r, "vaultID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVaultResponse(record))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")
	user := chi.URLParam(r, "user")
	if !s.authorizeUser(w, r, user) {
		return
	}
	position, err := s.engine.Position(r.Context(), vaultID, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	available, err := s.engine.BorrowCeiling(r.Context(), vaultID, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(position, available))
}

// operation returns the handler for one of the four user operations.
func (s *Server) operation(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vaultID := chi.URLParam(r, "vaultID")
		var req operationRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if !s.authorizeUser(w, r, req.User) {
			return
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			s.writeError(w, err)
			return
		}

		release := s.locks.Lock(vaultID)
		start := time.Now()
		body, err := s.apply(r.Context(), name, vaultID, req.User, amount)
		release()
		observability.Vault().Observe(name, amount, err, time.Since(start))

		if err != nil {
			var partial *vault.PartialTransferError
			if errors.As(err, &partial) {
				observability.Vault().RecordPartial(name)
				s.logger.Error("settlement needs reconciliation",
					slog.String("operation", name),
					slog.String("vault_id", partial.VaultID),
					slog.Any("error", err))
			}
			s.writeError(w, err)
			return
		}
		s.logger.Info("vault operation applied",
			slog.String("operation", name),
			slog.String("vault_id", vaultID),
			slog.Uint64("amount", amount))
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) apply(ctx context.Context, name, vaultID, user string, amount uint64) (any, error) {
	switch name {
	case "deposit":
		return map[string]string{"status": "ok"}, s.engine.Deposit(ctx, vaultID, user, amount)
	case "borrow":
		return map[string]string{"status": "ok"}, s.engine.Borrow(ctx, vaultID, user, amount)
	case "repay":
		result, err := s.engine.Repay(ctx, vaultID, user, amount)
		return repayResponse{ToVault: formatUint(result.ToVault), ToRewards: formatUint(result.ToRewards)}, err
	case "withdraw":
		result, err := s.engine.Withdraw(ctx, vaultID, user, amount)
		return withdrawResponse{Principal: formatUint(result.Principal), Reward: formatUint(result.Reward)}, err
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", errBadRequest, name)
	}
}

func (s *Server) getHolding(w http.ResponseWriter, r *http.Request) {
	holding := strings.TrimSpace(chi.URLParam(r, "*"))
	if holding == "" {
		s.writeError(w, fmt.Errorf("%w: holding required", errBadRequest))
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if owner := vault.HoldingOwner(holding); principal != nil && !principal.IsAdmin() &&
		!strings.HasPrefix(owner, "vault/") && owner != principal.Subject {
		http.Error(w, "holding belongs to another user", http.StatusForbidden)
		return
	}
	h, err := s.holdings.Balance(r.Context(), holding)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldingResponse(h))
}

func (s *Server) credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if amount == 0 {
		s.writeError(w, vault.ErrInvalidAmount)
		return
	}
	h, err := s.holdings.Credit(r.Context(), strings.TrimSpace(req.Holding), req.Asset, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("holding credited", slog.String("holding", h.ID), slog.Uint64("amount", amount))
	writeJSON(w, http.StatusOK, toHoldingResponse(h))
}

func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		http.Error(w, "pause control not configured", http.StatusNotImplemented)
		return
	}
	var req pauseRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	if module == "" {
		module = "vault"
	}
	s.pauses.Set(module, req.Paused)
	s.logger.Warn("module pause toggled", slog.String("component", module), slog.Bool("paused", req.Paused))
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": s.pauses.IsPaused(module)})
}

// authorizeUser enforces that non-admin callers act only for themselves.
// Without a principal (optional auth) the request is allowed.
func (s *Server) authorizeUser(w http.ResponseWriter, r *http.Request, user string) bool {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil || principal.IsAdmin() {
		return true
	}
	if strings.TrimSpace(user) != principal.Subject {
		http.Error(w, "caller may only act for its own subject", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := toHTTP(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("reason", code), slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: publicMessage(status, err), Code: code})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
