package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/service"
)

type runDistributionRequest struct {
	Date       string `json:"date" validate:"omitempty,iso_date"`
	ForceRerun bool   `json:"force_rerun"`
}

type cancelDuplicatesRequest struct {
	Policy string `json:"policy" validate:"omitempty,oneof=keep-earliest"`
	DryRun bool   `json:"dry_run"`
}

type runResponse struct {
	RunID           string          `json:"run_id"`
	Date            string          `json:"date"`
	IsManual        bool            `json:"is_manual"`
	ForceRerun      bool            `json:"force_rerun"`
	TriggeredBy     *uint64         `json:"triggered_by,omitempty"`
	Credited        int             `json:"credited"`
	Skipped         int             `json:"skipped"`
	Missed          int             `json:"missed"`
	Failed          int             `json:"failed"`
	TotalROI        decimal.Decimal `json:"total_roi"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalMissed     decimal.Decimal `json:"total_missed"`
	Stopped         bool            `json:"stopped"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
}

type divergenceResponse struct {
	Transaction transactionResponse  `json:"transaction"`
	Preceding   *transactionResponse `json:"preceding,omitempty"`
	Replayed    decimal.Decimal      `json:"replayed_balance"`
	Recorded    decimal.Decimal      `json:"recorded_balance"`
	Gap         decimal.Decimal      `json:"gap"`
	Direction   string               `json:"direction"`
	Explanation string               `json:"explanation"`
}

type traceResponse struct {
	UserID          uint64              `json:"user_id"`
	StoredBalance   decimal.Decimal     `json:"stored_balance"`
	ComputedBalance decimal.Decimal     `json:"computed_balance"`
	Difference      decimal.Decimal     `json:"difference"`
	Consistent      bool                `json:"consistent"`
	FirstDivergence *divergenceResponse `json:"first_divergence,omitempty"`
	Steps           []service.TraceStep `json:"steps"`
}

type duplicateGroupResponse struct {
	Amount      decimal.Decimal      `json:"amount"`
	Investments []investmentResponse `json:"investments"`
}

type duplicateUserResponse struct {
	UserID      uint64                   `json:"user_id"`
	ActiveCount int                      `json:"active_count"`
	Groups      []duplicateGroupResponse `json:"duplicate_groups"`
}

// RunDistribution handles POST /api/v1/admin/distributions
func (h *Handler) RunDistribution(w http.ResponseWriter, r *http.Request) {
	admin, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	var req runDistributionRequest
	if r.ContentLength != 0 && !h.decodeAndValidate(w, r, &req) {
		return
	}

	runReq := service.RunRequest{
		ForceRerun:  req.ForceRerun,
		IsManual:    true,
		TriggeredBy: &admin.UserID,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "The date must be formatted as YYYY-MM-DD")
			return
		}
		runReq.Date = date
	}

	summary, err := h.svc.Distribution.Run(r.Context(), runReq)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

// ListRuns handles GET /api/v1/admin/distributions
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Distribution.RecentRuns(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	writeData(w, http.StatusOK, out)
}

func toRunResponse(run *models.DistributionRun) runResponse {
	return runResponse{
		RunID:           run.RunID,
		Date:            run.RunDate.Format("2006-01-02"),
		IsManual:        run.IsManual,
		ForceRerun:      run.ForceRerun,
		TriggeredBy:     run.TriggeredBy,
		Credited:        run.Credited,
		Skipped:         run.Skipped,
		Missed:          run.Missed,
		Failed:          run.Failed,
		TotalROI:        run.TotalROI,
		TotalCommission: run.TotalCommission,
		TotalMissed:     run.TotalMissed,
		Stopped:         run.Stopped,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
	}
}

// CheckBalances handles GET /api/v1/admin/balances/check
func (h *Handler) CheckBalances(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconciliation.CheckAllBalances(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// TraceBalance handles GET /api/v1/admin/balances/{userID}/trace
func (h *Handler) TraceBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	trace, err := h.svc.Reconciliation.TraceBalance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	resp := traceResponse{
		UserID:          trace.UserID,
		StoredBalance:   trace.StoredBalance,
		ComputedBalance: trace.ComputedBalance,
		Difference:      trace.Difference,
		Consistent:      trace.Consistent,
		Steps:           trace.Steps,
	}
	if d := trace.FirstDivergence; d != nil {
		div := &divergenceResponse{
			Transaction: toTransactionResponse(d.Transaction),
			Replayed:    d.Replayed,
			Recorded:    d.Recorded,
			Gap:         d.Gap,
			Direction:   d.Direction,
			Explanation: d.Explanation,
		}
		if d.Preceding != nil {
			preceding := toTransactionResponse(d.Preceding)
			div.Preceding = &preceding
		}
		resp.FirstDivergence = div
	}
	writeData(w, http.StatusOK, resp)
}

// FindDuplicates handles GET /api/v1/admin/duplicates
func (h *Handler) FindDuplicates(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Remediation.FindDuplicateActiveInvestments(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	out := make([]duplicateUserResponse, 0, len(users))
	for _, u := range users {
		entry := duplicateUserResponse{UserID: u.UserID, ActiveCount: u.ActiveCount}
		for _, g := range u.DuplicateGroups() {
			entry.Groups = append(entry.Groups, duplicateGroupResponse{
				Amount:      g.Amount,
				Investments: toInvestmentResponses(g.Investments),
			})
		}
		out = append(out, entry)
	}
	writeData(w, http.StatusOK, out)
}

// CancelDuplicates handles POST /api/v1/admin/duplicates/cancel
func (h *Handler) CancelDuplicates(w http.ResponseWriter, r *http.Request) {
	var req cancelDuplicatesRequest
	if r.ContentLength != 0 && !h.decodeAndValidate(w, r, &req) {
		return
	}
	policy := service.PolicyKeepEarliest
	if req.Policy != "" {
		policy = service.RemediationPolicy(req.Policy)
	}

	report, err := h.svc.Remediation.CancelDuplicates(r.Context(), policy, req.DryRun)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// GetSettings handles GET /api/v1/admin/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings.Load(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toSettingsPayload(settings))
}

// UpdateSettings handles PUT /api/v1/admin/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	settings, err := h.svc.Settings.Update(r.Context(), req.toModel())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toSettingsPayload(settings))
}
