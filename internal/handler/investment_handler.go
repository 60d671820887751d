package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/service"
)

type activateRequest struct {
	Amount string `json:"amount" validate:"required,money"`
}

type claimRequest struct {
	Amount string `json:"amount" validate:"required,money"`
	TxHash string `json:"tx_hash" validate:"required,min=10,max=128"`
}

type sponsorRequest struct {
	ReferralCode string `json:"referral_code" validate:"required,referral_code"`
}

type uplineRequest struct {
	UplineID uint64 `json:"upline_id" validate:"required"`
}

type networkMember struct {
	UserID           uint64          `json:"user_id"`
	Name             string          `json:"name"`
	Level            int             `json:"level"`
	OwnInvested      decimal.Decimal `json:"own_invested"`
	NetworkInvested  decimal.Decimal `json:"network_invested"`
	DirectCount      int             `json:"direct_count"`
	QualifiedDirects int             `json:"qualified_directs"`
	Children         []networkMember `json:"children,omitempty"`
}

type networkResponse struct {
	LevelCounts      []int           `json:"level_counts"`
	TotalMembers     int             `json:"total_members"`
	QualifiedDirects int             `json:"qualified_directs"`
	UnlockedLevel    int             `json:"unlocked_level"`
	NetworkInvested  decimal.Decimal `json:"network_invested"`
	Members          []networkMember `json:"members"`
}

func toNetworkMembers(nodes []*service.DownlineNode) []networkMember {
	out := make([]networkMember, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, networkMember{
			UserID:           n.User.ID,
			Name:             n.User.Name,
			Level:            n.Level,
			OwnInvested:      n.OwnInvested,
			NetworkInvested:  n.NetworkInvested,
			DirectCount:      n.DirectCount,
			QualifiedDirects: n.QualifiedDirects,
			Children:         toNetworkMembers(n.Children),
		})
	}
	return out
}

// ActivateInvestment handles POST /api/v1/investments/activate
func (h *Handler) ActivateInvestment(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	var req activateRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	inv, err := h.svc.Investments.ActivateFromWallet(r.Context(), user.UserID, amountOf(req.Amount))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, toInvestmentResponse(inv))
}

// SubmitDepositClaim handles POST /api/v1/investments/claims
func (h *Handler) SubmitDepositClaim(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	var req claimRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	inv, err := h.svc.Investments.SubmitDepositClaim(r.Context(), user.UserID, amountOf(req.Amount), req.TxHash)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, toInvestmentResponse(inv))
}

// ListInvestments handles GET /api/v1/investments
func (h *Handler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	rows, err := h.svc.Investments.ListForUser(r.Context(), user.UserID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toInvestmentResponses(rows))
}

// GetNetwork handles GET /api/v1/network
func (h *Handler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	view, err := h.svc.Referrals.Network(r.Context(), user.UserID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	resp := networkResponse{
		LevelCounts:      view.LevelCounts,
		TotalMembers:     view.TotalMembers,
		QualifiedDirects: view.QualifiedDirects,
		UnlockedLevel:    view.UnlockedLevel,
		NetworkInvested:  view.NetworkInvested,
		Members:          []networkMember{},
	}
	if view.Root != nil {
		resp.Members = toNetworkMembers(view.Root.Children)
	}
	writeData(w, http.StatusOK, resp)
}

// AssignSponsor handles POST /api/v1/network/sponsor
func (h *Handler) AssignSponsor(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	var req sponsorRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.Referrals.AssignUpline(r.Context(), user.UserID, req.ReferralCode); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Sponsor assigned"})
}

// PendingInvestments handles GET /api/v1/admin/investments
func (h *Handler) PendingInvestments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Investments.ListPending(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toInvestmentResponses(rows))
}

// ApproveInvestment handles POST /api/v1/admin/investments/{id}/approve
func (h *Handler) ApproveInvestment(w http.ResponseWriter, r *http.Request) {
	admin, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid investment id")
		return
	}

	inv, err := h.svc.Investments.Approve(r.Context(), id, admin.UserID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toInvestmentResponse(inv))
}

// RejectInvestment handles POST /api/v1/admin/investments/{id}/reject
func (h *Handler) RejectInvestment(w http.ResponseWriter, r *http.Request) {
	admin, err := currentUser(r)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid investment id")
		return
	}

	inv, err := h.svc.Investments.Reject(r.Context(), id, admin.UserID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, toInvestmentResponse(inv))
}

// ChangeUpline handles PUT /api/v1/admin/users/{id}/upline
func (h *Handler) ChangeUpline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req uplineRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.Referrals.ChangeUpline(r.Context(), id, req.UplineID); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Upline changed"})
}
