package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"broadcaster/internal/models"
	"broadcaster/internal/service"
)

// CampaignHandler exposes campaign lifecycle controls
type CampaignHandler struct {
	campaignService  *service.CampaignService
	marketingService *service.MarketingService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService, marketingService *service.MarketingService) *CampaignHandler {
	return &CampaignHandler{
		campaignService:  campaignService,
		marketingService: marketingService,
	}
}

// StatusResponse confirms a lifecycle action
type StatusResponse struct {
	Family models.Family         `json:"family"`
	ID     int64                 `json:"id"`
	Status models.CampaignStatus `json:"status"`
}

// Start handles POST /api/campaigns/{family}/{id}/start
func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaignService.Start, models.CampaignStatusRunning)
}

// Pause handles POST /api/campaigns/{family}/{id}/pause
func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaignService.Pause, models.CampaignStatusPaused)
}

// Resume handles POST /api/campaigns/{family}/{id}/resume
func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaignService.Resume, models.CampaignStatusRunning)
}

// Cancel handles POST /api/campaigns/{family}/{id}/cancel
func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaignService.Cancel, models.CampaignStatusCanceled)
}

// Stats handles GET /api/campaigns/{family}/{id}/stats
func (h *CampaignHandler) Stats(w http.ResponseWriter, r *http.Request) {
	family, id, ok := parseCampaignRoute(w, r)
	if !ok {
		return
	}

	stats, err := h.campaignService.GetStats(r.Context(), family, id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, stats)
}

// PauseCustomer handles POST /api/marketing/campaigns/{id}/customers/{customerID}/pause
func (h *CampaignHandler) PauseCustomer(w http.ResponseWriter, r *http.Request) {
	h.customerState(w, r, h.marketingService.PauseCustomer, models.CustomerStatePaused)
}

// ResumeCustomer handles POST /api/marketing/campaigns/{id}/customers/{customerID}/resume
func (h *CampaignHandler) ResumeCustomer(w http.ResponseWriter, r *http.Request) {
	h.customerState(w, r, h.marketingService.ResumeCustomer, models.CustomerStateActive)
}

func (h *CampaignHandler) lifecycle(w http.ResponseWriter, r *http.Request, action func(context.Context, models.Family, int64) error, status models.CampaignStatus) {
	family, id, ok := parseCampaignRoute(w, r)
	if !ok {
		return
	}

	if err := action(r.Context(), family, id); err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, StatusResponse{Family: family, ID: id, Status: status})
}

func (h *CampaignHandler) customerState(w http.ResponseWriter, r *http.Request, action func(context.Context, int64, int64) error, state string) {
	vars := mux.Vars(r)
	campaignID, err := parseID(vars["id"])
	if err != nil {
		WriteValidationError(w, "invalid campaign ID")
		return
	}
	customerID, err := parseID(vars["customerID"])
	if err != nil {
		WriteValidationError(w, "invalid customer ID")
		return
	}

	if err := action(r.Context(), campaignID, customerID); err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, map[string]interface{}{
		"campaign_id": campaignID,
		"customer_id": customerID,
		"state":       state,
	})
}

func parseCampaignRoute(w http.ResponseWriter, r *http.Request) (models.Family, int64, bool) {
	vars := mux.Vars(r)
	family, err := models.ParseFamily(vars["family"])
	if err != nil {
		WriteValidationError(w, err.Error())
		return "", 0, false
	}
	id, err := parseID(vars["id"])
	if err != nil {
		WriteValidationError(w, "invalid campaign ID")
		return "", 0, false
	}
	return family, id, true
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive")
	}
	return id, nil
}
