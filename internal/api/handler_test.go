package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/walletops/internal/api"
	"github.com/punchamoorthee/walletops/internal/domain"
)

// ---- mock implementation ----

type mockWallets struct {
	createFn    func() (domain.ID, error)
	balanceFn   func(id domain.ID) (domain.Balance, error)
	depositFn   func(id domain.ID, amount *big.Int) (*domain.OperationResult, error)
	withdrawFn  func(id domain.ID, amount *big.Int) (*domain.OperationResult, error)
	operationFn func(id domain.ID) (domain.PendingOperation, error)
}

func (m *mockWallets) CreateWallet(context.Context) (domain.ID, error) {
	return m.createFn()
}

func (m *mockWallets) GetBalance(_ context.Context, id domain.ID) (domain.Balance, error) {
	return m.balanceFn(id)
}

func (m *mockWallets) Deposit(_ context.Context, id domain.ID, amount *big.Int) (*domain.OperationResult, error) {
	return m.depositFn(id, amount)
}

func (m *mockWallets) StartWithdrawal(_ context.Context, id domain.ID, amount *big.Int) (*domain.OperationResult, error) {
	return m.withdrawFn(id, amount)
}

func (m *mockWallets) GetOperation(_ context.Context, id domain.ID) (domain.PendingOperation, error) {
	return m.operationFn(id)
}

func newRouter(t *testing.T, m *mockWallets) *mux.Router {
	t.Helper()
	r := mux.NewRouter()
	r.Use(api.Instrument(zaptest.NewLogger(t)))
	api.NewHandler(m, zaptest.NewLogger(t)).Routes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func opened(id string) *domain.OperationResult {
	return &domain.OperationResult{
		OperationID:       domain.MustParseID(id),
		PendingTransferID: domain.MustParseID(id + "9"),
		Amount:            big.NewInt(100),
		Status:            domain.StatusPending,
	}
}

// ---- tests ----

func TestCreateWallet(t *testing.T) {
	r := newRouter(t, &mockWallets{createFn: func() (domain.ID, error) {
		return domain.MustParseID("123456789"), nil
	}})

	rec := do(r, "POST", "/wallets", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; want 201", rec.Code)
	}
	if got := decode(t, rec)["walletId"]; got != "123456789" {
		t.Errorf("walletId = %v", got)
	}
	if rec.Header().Get(api.RequestIDHeader) == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestCreateWallet_Failure(t *testing.T) {
	r := newRouter(t, &mockWallets{createFn: func() (domain.ID, error) {
		return domain.ID{}, errors.New("engine unavailable")
	}})

	rec := do(r, "POST", "/wallets", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != "Failed to create wallet" {
		t.Errorf("error = %v", got)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	r := newRouter(t, &mockWallets{createFn: func() (domain.ID, error) { return domain.MustParseID("1"), nil }})
	req := httptest.NewRequest("POST", "/wallets", nil)
	req.Header.Set(api.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get(api.RequestIDHeader); got != "req-42" {
		t.Errorf("X-Request-ID = %q; want req-42", got)
	}
}

func TestGetBalance(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		balanceFn  func(domain.ID) (domain.Balance, error)
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name: "ok",
			path: "/wallets/77/balance",
			balanceFn: func(id domain.ID) (domain.Balance, error) {
				if id.String() != "77" {
					t.Errorf("wallet id = %s", id)
				}
				return domain.Balance{Available: big.NewInt(70), Pending: big.NewInt(30)}, nil
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"accountId": "77", "available": "70", "pending": "30"},
		},
		{
			name: "unknown wallet",
			path: "/wallets/77/balance",
			balanceFn: func(domain.ID) (domain.Balance, error) {
				return domain.Balance{}, domain.ErrWalletNotFound
			},
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"error": "Wallet not found"},
		},
		{
			name:       "malformed id",
			path:       "/wallets/abc/balance",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "engine failure",
			path: "/wallets/77/balance",
			balanceFn: func(domain.ID) (domain.Balance, error) {
				return domain.Balance{}, errors.New("timeout")
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"error": "Failed to get wallet balance"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, &mockWallets{balanceFn: tt.balanceFn})
			rec := do(r, "GET", tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d", rec.Code, tt.wantStatus)
			}
			got := decode(t, rec)
			for k, v := range tt.wantBody {
				if got[k] != v {
					t.Errorf("%s = %v; want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestDeposit(t *testing.T) {
	var gotAmount *big.Int
	r := newRouter(t, &mockWallets{depositFn: func(_ domain.ID, amount *big.Int) (*domain.OperationResult, error) {
		gotAmount = amount
		return opened("5"), nil
	}})

	rec := do(r, "POST", "/wallets/77/deposit", `{"amount":"100"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200 (%s)", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["depositId"] != "5" || body["pendingTransferId"] != "59" || body["amount"] != "100" || body["status"] != "pending" {
		t.Errorf("body = %v", body)
	}
	if gotAmount.Int64() != 100 {
		t.Errorf("amount passed = %s; want 100", gotAmount)
	}
}

func TestDeposit_NumericAmount(t *testing.T) {
	r := newRouter(t, &mockWallets{depositFn: func(_ domain.ID, amount *big.Int) (*domain.OperationResult, error) {
		if amount.String() != "340282366920938463463374607431768211455" {
			t.Errorf("amount = %s", amount)
		}
		return opened("5"), nil
	}})

	rec := do(r, "POST", "/wallets/77/deposit", `{"amount":340282366920938463463374607431768211455}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
}

func TestAmountValidation(t *testing.T) {
	bodies := []string{
		``,
		`{}`,
		`{"amount":""}`,
		`{"amount":"0"}`,
		`{"amount":"-5"}`,
		`{"amount":"1.5"}`,
		`{"amount":"abc"}`,
		`{"amount":"340282366920938463463374607431768211456"}`,
		`{"amount":"1e39"}`,
		`{"amount":"1e1000000000"}`,
		`{"amount":1e2000000000}`,
		`{"amount":"1e-5"}`,
		`{"amount":"` + strings.Repeat("9", 2000) + `"}`,
	}
	m := &mockWallets{
		depositFn: func(domain.ID, *big.Int) (*domain.OperationResult, error) {
			t.Fatal("deposit should not be called")
			return nil, nil
		},
		withdrawFn: func(domain.ID, *big.Int) (*domain.OperationResult, error) {
			t.Fatal("withdrawal should not be called")
			return nil, nil
		},
	}
	r := newRouter(t, m)

	for _, path := range []string{"/wallets/77/deposit", "/wallets/77/withdraw"} {
		for _, body := range bodies {
			rec := do(r, "POST", path, body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("POST %s %q status = %d; want 400", path, body, rec.Code)
				continue
			}
			if got := decode(t, rec)["error"]; got != "Valid amount is required" {
				t.Errorf("POST %s %q error = %v", path, body, got)
			}
		}
	}
}

func TestWithdraw(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"ok", nil, http.StatusOK, ""},
		{
			"insufficient funds",
			&domain.TransferRejectedError{Op: "create_pending_transfer", Reason: "exceeds_credits", Kind: domain.RejectInsufficientFunds},
			http.StatusUnprocessableEntity, "Insufficient funds",
		},
		{
			"unknown wallet",
			&domain.TransferRejectedError{Op: "create_pending_transfer", Reason: "debit_account_not_found", Kind: domain.RejectUnknownAccount},
			http.StatusNotFound, "Wallet not found",
		},
		{
			"other rejection",
			&domain.TransferRejectedError{Op: "create_pending_transfer", Reason: "exists", Kind: domain.RejectDuplicate},
			http.StatusInternalServerError, "Failed to process withdrawal",
		},
		{"transport", errors.New("connection reset"), http.StatusInternalServerError, "Failed to process withdrawal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, &mockWallets{withdrawFn: func(domain.ID, *big.Int) (*domain.OperationResult, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return opened("6"), nil
			}})

			rec := do(r, "POST", "/wallets/77/withdraw", `{"amount":"30"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d; want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			if tt.wantError != "" {
				if body["error"] != tt.wantError {
					t.Errorf("error = %v; want %q", body["error"], tt.wantError)
				}
				return
			}
			if body["withdrawalId"] != "6" || body["status"] != "pending" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestGetOperation(t *testing.T) {
	r := newRouter(t, &mockWallets{operationFn: func(id domain.ID) (domain.PendingOperation, error) {
		if id.String() == "404" {
			return domain.PendingOperation{}, domain.ErrOperationNotFound
		}
		return domain.PendingOperation{
			ID:        id,
			Kind:      domain.KindWithdrawal,
			WalletID:  domain.MustParseID("77"),
			Amount:    big.NewInt(30),
			State:     domain.StateAbandoned,
			Attempts:  3,
			LastError: "pending_transfer_expired",
		}, nil
	}})

	rec := do(r, "GET", "/operations/12", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["state"] != "ABANDONED" || body["kind"] != "withdrawal" || body["amount"] != "30" || body["lastError"] != "pending_transfer_expired" {
		t.Errorf("body = %v", body)
	}

	if rec := do(r, "GET", "/operations/404", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown operation status = %d; want 404", rec.Code)
	}
}
