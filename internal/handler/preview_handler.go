package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"broadcaster/internal/repository"
	"broadcaster/internal/service"
)

// PreviewHandler renders templates against a customer without sending anything
type PreviewHandler struct {
	templateService *service.TemplateService
	customers       repository.CustomerRepository
	validate        *validator.Validate
}

// NewPreviewHandler creates a new PreviewHandler instance
func NewPreviewHandler(templateService *service.TemplateService, customers repository.CustomerRepository) *PreviewHandler {
	return &PreviewHandler{
		templateService: templateService,
		customers:       customers,
		validate:        validator.New(),
	}
}

// PreviewRequest represents the request body for a template preview
type PreviewRequest struct {
	CustomerID int64  `json:"customer_id" validate:"required,gt=0"`
	Template   string `json:"template" validate:"required"`
}

// PreviewResponse is the rendered result
type PreviewResponse struct {
	CustomerID   int64    `json:"customer_id"`
	Rendered     string   `json:"rendered"`
	Placeholders []string `json:"placeholders"`
}

// Preview handles POST /api/templates/preview
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteValidationError(w, err.Error())
		return
	}

	customer, err := h.customers.GetByID(r.Context(), req.CustomerID)
	if errors.Is(err, repository.ErrNotFound) {
		WriteNotFoundError(w, "customer", req.CustomerID)
		return
	}
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	rendered, err := h.templateService.Preview(req.Template, customer)
	if err != nil {
		WriteValidationError(w, err.Error())
		return
	}

	WriteOK(w, PreviewResponse{
		CustomerID:   customer.ID,
		Rendered:     rendered,
		Placeholders: h.templateService.GetPlaceholders(req.Template),
	})
}
