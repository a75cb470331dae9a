package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/domain"
)

// Wallets is the orchestrator surface exposed over HTTP.
type Wallets interface {
	CreateWallet(ctx context.Context) (domain.ID, error)
	GetBalance(ctx context.Context, walletID domain.ID) (domain.Balance, error)
	Deposit(ctx context.Context, walletID domain.ID, amount *big.Int) (*domain.OperationResult, error)
	StartWithdrawal(ctx context.Context, walletID domain.ID, amount *big.Int) (*domain.OperationResult, error)
	GetOperation(ctx context.Context, id domain.ID) (domain.PendingOperation, error)
}

var validate = validator.New()

// maxBodyBytes caps amount request bodies.
const maxBodyBytes = 1 << 10

// AmountRequest accepts the amount as a JSON string or number.
type AmountRequest struct {
	Amount json.Number `json:"amount" validate:"required"`
}

type BalanceResponse struct {
	AccountID string `json:"accountId"`
	Available string `json:"available"`
	Pending   string `json:"pending"`
}

type DepositResponse struct {
	DepositID         string `json:"depositId"`
	PendingTransferID string `json:"pendingTransferId"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
}

type WithdrawalResponse struct {
	WithdrawalID      string `json:"withdrawalId"`
	PendingTransferID string `json:"pendingTransferId"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
}

type OperationResponse struct {
	OperationID       string    `json:"operationId"`
	Kind              string    `json:"kind"`
	WalletID          string    `json:"walletId"`
	PendingTransferID string    `json:"pendingTransferId"`
	Amount            string    `json:"amount"`
	State             string    `json:"state"`
	Attempts          int       `json:"attempts"`
	DueAt             time.Time `json:"dueAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	LastError         string    `json:"lastError,omitempty"`
}

type Handler struct {
	wallets Wallets
	log     *zap.Logger
}

func NewHandler(wallets Wallets, logger *zap.Logger) *Handler {
	return &Handler{wallets: wallets, log: logger.Named("api")}
}

// Routes registers the wallet endpoints on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/wallets", h.CreateWallet).Methods("POST")
	r.HandleFunc("/wallets/{walletId}/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/wallets/{walletId}/deposit", h.Deposit).Methods("POST")
	r.HandleFunc("/wallets/{walletId}/withdraw", h.Withdraw).Methods("POST")
	r.HandleFunc("/operations/{operationId}", h.GetOperation).Methods("GET")
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	id, err := h.wallets.CreateWallet(r.Context())
	if err != nil {
		h.fail(r, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create wallet")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"walletId": id.String()})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "walletId", "Invalid wallet id")
	if !ok {
		return
	}

	b, err := h.wallets.GetBalance(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			respondWithError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		h.fail(r, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to get wallet balance")
		return
	}

	respondWithJSON(w, http.StatusOK, BalanceResponse{
		AccountID: id.String(),
		Available: b.Available.String(),
		Pending:   b.Pending.String(),
	})
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, amount, ok := h.amountRequest(w, r)
	if !ok {
		return
	}

	res, err := h.wallets.Deposit(r.Context(), id, amount)
	if err != nil {
		h.operationError(w, r, err, "Failed to process deposit")
		return
	}
	respondWithJSON(w, http.StatusOK, DepositResponse{
		DepositID:         res.OperationID.String(),
		PendingTransferID: res.PendingTransferID.String(),
		Amount:            res.Amount.String(),
		Status:            res.Status,
	})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, amount, ok := h.amountRequest(w, r)
	if !ok {
		return
	}

	res, err := h.wallets.StartWithdrawal(r.Context(), id, amount)
	if err != nil {
		h.operationError(w, r, err, "Failed to process withdrawal")
		return
	}
	respondWithJSON(w, http.StatusOK, WithdrawalResponse{
		WithdrawalID:      res.OperationID.String(),
		PendingTransferID: res.PendingTransferID.String(),
		Amount:            res.Amount.String(),
		Status:            res.Status,
	})
}

func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "operationId", "Invalid operation id")
	if !ok {
		return
	}

	op, err := h.wallets.GetOperation(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrOperationNotFound) {
			respondWithError(w, http.StatusNotFound, "Operation not found")
			return
		}
		h.fail(r, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to get operation")
		return
	}

	respondWithJSON(w, http.StatusOK, OperationResponse{
		OperationID:       op.ID.String(),
		Kind:              string(op.Kind),
		WalletID:          op.WalletID.String(),
		PendingTransferID: op.PendingTransferID.String(),
		Amount:            op.Amount.String(),
		State:             string(op.State),
		Attempts:          op.Attempts,
		DueAt:             op.DueAt,
		ExpiresAt:         op.ExpiresAt,
		LastError:         op.LastError,
	})
}

func (h *Handler) amountRequest(w http.ResponseWriter, r *http.Request) (domain.ID, *big.Int, bool) {
	id, ok := pathID(w, r, "walletId", "Invalid wallet id")
	if !ok {
		return domain.ID{}, nil, false
	}

	var req AmountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Valid amount is required")
		return domain.ID{}, nil, false
	}
	if err := validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Valid amount is required")
		return domain.ID{}, nil, false
	}
	amount, err := domain.ParseAmount(req.Amount.String())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Valid amount is required")
		return domain.ID{}, nil, false
	}
	return id, amount, true
}

func (h *Handler) operationError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var rej *domain.TransferRejectedError
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		respondWithError(w, http.StatusUnprocessableEntity, "Insufficient funds")
	case errors.As(err, &rej) && rej.Kind == domain.RejectUnknownAccount:
		respondWithError(w, http.StatusNotFound, "Wallet not found")
	case errors.Is(err, domain.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, "Valid amount is required")
	default:
		h.fail(r, err)
		respondWithError(w, http.StatusInternalServerError, msg)
	}
}

func (h *Handler) fail(r *http.Request, err error) {
	h.log.Error("request failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
}

func pathID(w http.ResponseWriter, r *http.Request, name, msg string) (domain.ID, bool) {
	id, err := domain.ParseID(mux.Vars(r)[name])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, msg)
		return domain.ID{}, false
	}
	return id, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
