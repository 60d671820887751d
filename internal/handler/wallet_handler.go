package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/service"
)

type walletResponse struct {
	UserID             uint64                `json:"user_id"`
	Balance            decimal.Decimal       `json:"balance"`
	PendingWithdrawals decimal.Decimal       `json:"pending_withdrawals"`
	PendingDeposits    decimal.Decimal       `json:"pending_deposits"`
	Recent             []transactionResponse `json:"recent_transactions"`
}

type depositRequest struct {
	Amount string `json:"amount" validate:"required,money"`
	TxHash string `json:"tx_hash" validate:"required,min=10,max=128"`
}

type withdrawalRequest struct {
	Amount  string `json:"amount" validate:"required,money"`
	Address string `json:"address" validate:"required,wallet_address"`
	OTPCode string `json:"otp_code" validate:"required,len=6,numeric"`
}

type otpRequest struct {
	Purpose string `json:"purpose" validate:"required,oneof=SIGNUP WITHDRAWAL"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

// GetWallet handles GET /api/v1/wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	view, err := h.svc.Wallet.GetWallet(r.Context(), user.UserID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeData(w, http.StatusOK, walletResponse{
		UserID:             view.UserID,
		Balance:            view.Balance,
		PendingWithdrawals: view.PendingWithdrawals,
		PendingDeposits:    view.PendingDeposits,
		Recent:             toTransactionResponses(view.Recent),
	})
}

// RequestDeposit handles POST /api/v1/deposits
func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	var req depositRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	row, err := h.svc.Wallet.RequestDeposit(r.Context(), user.UserID, amountOf(req.Amount), req.TxHash)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, toTransactionResponse(row))
}

// RequestWithdrawal handles POST /api/v1/withdrawals
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	var req withdrawalRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	row, err := h.svc.Wallet.RequestWithdrawal(r.Context(), service.WithdrawalRequest{
		UserID:  user.UserID,
		Amount:  amountOf(req.Amount),
		Address: req.Address,
		OTPCode: req.OTPCode,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, toTransactionResponse(row))
}

// IssueOTP handles POST /api/v1/otp. The code itself is delivered out of band.
func (h *Handler) IssueOTP(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	var req otpRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.svc.OTP.Issue(r.Context(), user.UserID, models.OTPPurpose(req.Purpose)); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "Verification code sent",
	})
}

// PendingWithdrawals handles GET /api/v1/admin/withdrawals
func (h *Handler) PendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Wallet.PendingWithdrawals(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toTransactionResponses(rows))
}

// ApproveWithdrawal handles POST /api/v1/admin/withdrawals/{id}/approve
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.svc.Wallet.ApproveWithdrawal)
}

// RejectWithdrawal handles POST /api/v1/admin/withdrawals/{id}/reject
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.reject(w, r, h.svc.Wallet.RejectWithdrawal)
}

// PendingDeposits handles GET /api/v1/admin/deposits
func (h *Handler) PendingDeposits(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Wallet.PendingDeposits(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toTransactionResponses(rows))
}

// ApproveDeposit handles POST /api/v1/admin/deposits/{id}/approve
func (h *Handler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.svc.Wallet.ApproveDeposit)
}

// RejectDeposit handles POST /api/v1/admin/deposits/{id}/reject
func (h *Handler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	h.reject(w, r, h.svc.Wallet.RejectDeposit)
}

type settleFunc func(ctx context.Context, transactionID, adminID uint64) (*service.BalanceChange, error)

func (h *Handler) settle(w http.ResponseWriter, r *http.Request, fn settleFunc) {
	admin, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	change, err := fn(r.Context(), id, admin.UserID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toBalanceChangeResponse(change))
}

type rejectFunc func(ctx context.Context, transactionID, adminID uint64, reason string) (*models.Transaction, error)

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, fn rejectFunc) {
	admin, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 && !h.decodeAndValidate(w, r, &req) {
		return
	}

	row, err := fn(r.Context(), id, admin.UserID, req.Reason)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toTransactionResponse(row))
}
