package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/service"
	"newroi/ledger-service/pkg/auth"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}

func writeValidationErrors(w http.ResponseWriter, err error) {
	fields := helpers.FieldErrors(err)
	message := "The given data was invalid"
	for _, msg := range fields {
		message = msg
		break
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"success": false,
		"message": message,
		"errors":  fields,
	})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Unknown errors are logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, service.Reason(err))
	case errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrOTPInvalid),
		errors.Is(err, service.ErrOTPExpired):
		writeError(w, http.StatusUnprocessableEntity, service.Reason(err))
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrAlreadyProcessed):
		writeError(w, http.StatusConflict, service.Reason(err))
	case errors.Is(err, service.ErrConfigurationMissing):
		writeError(w, http.StatusServiceUnavailable, "System settings are not configured")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthenticated")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden")
	default:
		log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSONBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return io.EOF
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeAndValidate writes the error response itself and reports whether to continue
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeJSONBody(r, v); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	if err := h.validator.Validate(v); err != nil {
		writeValidationErrors(w, err)
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func currentUser(r *http.Request) (*auth.UserContext, error) {
	return auth.GetUserFromContext(r.Context())
}

type transactionResponse struct {
	ID              uint64                   `json:"id"`
	UserID          uint64                   `json:"user_id"`
	Type            models.TransactionType   `json:"type"`
	Amount          decimal.Decimal          `json:"amount"`
	PreviousBalance decimal.Decimal          `json:"previous_balance"`
	NewBalance      decimal.Decimal          `json:"new_balance"`
	Status          models.TransactionStatus `json:"status"`
	Description     string                   `json:"description"`
	ReferenceID     string                   `json:"reference_id,omitempty"`
	LedgerDate      string                   `json:"ledger_date,omitempty"`
	Metadata        map[string]any           `json:"metadata,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
}

func toTransactionResponse(t *models.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:              t.ID,
		UserID:          t.UserID,
		Type:            t.Type,
		Amount:          t.Amount,
		PreviousBalance: t.PreviousBalance,
		NewBalance:      t.NewBalance,
		Status:          t.Status,
		Description:     t.Description,
		ReferenceID:     t.Reference(),
		Metadata:        t.Metadata,
		CreatedAt:       t.CreatedAt,
		CompletedAt:     t.CompletedAt,
	}
	if t.LedgerDate != nil {
		resp.LedgerDate = t.LedgerDate.Format("2006-01-02")
	}
	return resp
}

func toTransactionResponses(rows []*models.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(rows))
	for _, t := range rows {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

type investmentResponse struct {
	ID               uint64                  `json:"id"`
	UserID           uint64                  `json:"user_id"`
	Amount           decimal.Decimal         `json:"amount"`
	ROIRate          decimal.Decimal         `json:"roi_rate"`
	DailyROI         decimal.Decimal         `json:"daily_roi"`
	Status           models.InvestmentStatus `json:"status"`
	TransactionID    string                  `json:"transaction_id,omitempty"`
	ApprovalMethod   string                  `json:"approval_method,omitempty"`
	TotalROIPaid     decimal.Decimal         `json:"total_roi_paid"`
	MaxReturnPercent decimal.Decimal         `json:"max_return_percent"`
	CreatedAt        time.Time               `json:"created_at"`
}

func toInvestmentResponse(inv *models.Investment) investmentResponse {
	resp := investmentResponse{
		ID:               inv.ID,
		UserID:           inv.UserID,
		Amount:           inv.Amount,
		ROIRate:          inv.ROIRate,
		DailyROI:         inv.DailyROI(),
		Status:           inv.Status,
		TotalROIPaid:     inv.TotalROIPaid,
		MaxReturnPercent: inv.MaxReturnPercent,
		CreatedAt:        inv.CreatedAt,
	}
	if inv.TransactionID != nil {
		resp.TransactionID = *inv.TransactionID
	}
	if inv.ApprovalMethod != nil {
		resp.ApprovalMethod = string(*inv.ApprovalMethod)
	}
	return resp
}

func toInvestmentResponses(rows []*models.Investment) []investmentResponse {
	out := make([]investmentResponse, 0, len(rows))
	for _, inv := range rows {
		out = append(out, toInvestmentResponse(inv))
	}
	return out
}

type balanceChangeResponse struct {
	TransactionID   uint64          `json:"transaction_id"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
}

func toBalanceChangeResponse(c *service.BalanceChange) balanceChangeResponse {
	return balanceChangeResponse{
		TransactionID:   c.TransactionID,
		PreviousBalance: c.PreviousBalance,
		NewBalance:      c.NewBalance,
	}
}

type settingsPayload struct {
	DailyROIPercent       string   `json:"daily_roi_percent" validate:"required,numeric"`
	LevelCommissions      []string `json:"level_commissions" validate:"len=10,dive,numeric"`
	LevelUnlockThresholds []int    `json:"level_unlock_thresholds" validate:"len=10,dive,min=0"`
	AdminWallet           string   `json:"admin_wallet" validate:"omitempty,wallet_address"`
	MaintenanceMode       bool     `json:"maintenance_mode"`
	ROIHoliday            bool     `json:"roi_holiday"`
	MinWithdrawal         string   `json:"min_withdrawal" validate:"required,numeric"`
	WithdrawalFeePercent  string   `json:"withdrawal_fee_percent" validate:"required,numeric"`
	MinInvestment         string   `json:"min_investment" validate:"required,numeric"`
	MaxReturnPercent      string   `json:"max_return_percent" validate:"omitempty,numeric"`
}

func toSettingsPayload(s *models.SystemSettings) settingsPayload {
	p := settingsPayload{
		DailyROIPercent:       s.DailyROIPercent.String(),
		LevelUnlockThresholds: s.LevelUnlockThresholds,
		AdminWallet:           s.AdminWallet,
		MaintenanceMode:       s.MaintenanceMode,
		ROIHoliday:            s.ROIHoliday,
		MinWithdrawal:         s.MinWithdrawal.String(),
		WithdrawalFeePercent:  s.WithdrawalFeePercent.String(),
		MinInvestment:         s.MinInvestment.String(),
		MaxReturnPercent:      s.MaxReturnPercent.String(),
	}
	for _, pct := range s.LevelCommissions {
		p.LevelCommissions = append(p.LevelCommissions, pct.String())
	}
	return p
}

// toModel converts a validated payload; numeric tags guarantee the parses succeed
func (p settingsPayload) toModel() *models.SystemSettings {
	s := &models.SystemSettings{
		ID:                    1,
		DailyROIPercent:       decimal.RequireFromString(p.DailyROIPercent),
		LevelUnlockThresholds: p.LevelUnlockThresholds,
		AdminWallet:           p.AdminWallet,
		MaintenanceMode:       p.MaintenanceMode,
		ROIHoliday:            p.ROIHoliday,
		MinWithdrawal:         decimal.RequireFromString(p.MinWithdrawal),
		WithdrawalFeePercent:  decimal.RequireFromString(p.WithdrawalFeePercent),
		MinInvestment:         decimal.RequireFromString(p.MinInvestment),
	}
	if p.MaxReturnPercent != "" {
		s.MaxReturnPercent = decimal.RequireFromString(p.MaxReturnPercent)
	}
	for _, pct := range p.LevelCommissions {
		s.LevelCommissions = append(s.LevelCommissions, decimal.RequireFromString(pct))
	}
	return s
}

// amountOf parses an amount that already passed the money validation rule
func amountOf(s string) decimal.Decimal {
	d, _ := helpers.ParseMoney(s)
	return d
}
