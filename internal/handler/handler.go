package handler

import (
	"net/http"

	"newroi/ledger-service/internal/service"
	"newroi/ledger-service/pkg/auth"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
	"newroi/ledger-service/pkg/metrics"
)

// Services groups the business services exposed over HTTP
type Services struct {
	Wallet         service.WalletService
	Investments    service.InvestmentService
	Referrals      service.ReferralService
	Settings       service.SettingsService
	OTP            service.OTPService
	Distribution   service.DistributionService
	Reconciliation service.ReconciliationService
	Remediation    service.RemediationService
}

// Handler serves the JSON API
type Handler struct {
	svc       Services
	validator *helpers.CustomValidator
	log       *logger.Logger
}

func NewHandler(svc Services, log *logger.Logger) *Handler {
	return &Handler{svc: svc, validator: helpers.NewCustomValidator(), log: log}
}

// Routes builds the full HTTP surface. metricsHandler may be nil to hide /metrics.
func (h *Handler) Routes(tokens auth.TokenValidator, m *metrics.Metrics, metricsHandler http.Handler) http.Handler {
	user := http.NewServeMux()
	user.HandleFunc("GET /api/v1/wallet", h.GetWallet)
	user.HandleFunc("POST /api/v1/deposits", h.RequestDeposit)
	user.HandleFunc("POST /api/v1/withdrawals", h.RequestWithdrawal)
	user.HandleFunc("POST /api/v1/otp", h.IssueOTP)
	user.HandleFunc("POST /api/v1/investments/activate", h.ActivateInvestment)
	user.HandleFunc("POST /api/v1/investments/claims", h.SubmitDepositClaim)
	user.HandleFunc("GET /api/v1/investments", h.ListInvestments)
	user.HandleFunc("GET /api/v1/network", h.GetNetwork)
	user.HandleFunc("POST /api/v1/network/sponsor", h.AssignSponsor)

	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/v1/admin/distributions", h.ListRuns)
	admin.HandleFunc("POST /api/v1/admin/distributions", h.RunDistribution)
	admin.HandleFunc("GET /api/v1/admin/balances/check", h.CheckBalances)
	admin.HandleFunc("GET /api/v1/admin/balances/{userID}/trace", h.TraceBalance)
	admin.HandleFunc("GET /api/v1/admin/duplicates", h.FindDuplicates)
	admin.HandleFunc("POST /api/v1/admin/duplicates/cancel", h.CancelDuplicates)
	admin.HandleFunc("GET /api/v1/admin/withdrawals", h.PendingWithdrawals)
	admin.HandleFunc("POST /api/v1/admin/withdrawals/{id}/approve", h.ApproveWithdrawal)
	admin.HandleFunc("POST /api/v1/admin/withdrawals/{id}/reject", h.RejectWithdrawal)
	admin.HandleFunc("GET /api/v1/admin/deposits", h.PendingDeposits)
	admin.HandleFunc("POST /api/v1/admin/deposits/{id}/approve", h.ApproveDeposit)
	admin.HandleFunc("POST /api/v1/admin/deposits/{id}/reject", h.RejectDeposit)
	admin.HandleFunc("GET /api/v1/admin/investments", h.PendingInvestments)
	admin.HandleFunc("POST /api/v1/admin/investments/{id}/approve", h.ApproveInvestment)
	admin.HandleFunc("POST /api/v1/admin/investments/{id}/reject", h.RejectInvestment)
	admin.HandleFunc("PUT /api/v1/admin/users/{id}/upline", h.ChangeUpline)
	admin.HandleFunc("GET /api/v1/admin/settings", h.GetSettings)
	admin.HandleFunc("PUT /api/v1/admin/settings", h.UpdateSettings)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	mux.Handle("/api/v1/admin/", auth.HTTPMiddleware(tokens, auth.RequireOperator(metrics.HTTPMiddleware(m, admin))))
	mux.Handle("/api/v1/", auth.HTTPMiddleware(tokens, metrics.HTTPMiddleware(m, user)))

	return logger.HTTPMiddleware(h.log, mux)
}
