package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"broadcaster/internal/models"
	"broadcaster/internal/service"
)

// MessageHandler sends single messages outside any campaign
type MessageHandler struct {
	outbound *service.Outbound
	validate *validator.Validate
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(outbound *service.Outbound) *MessageHandler {
	return &MessageHandler{
		outbound: outbound,
		validate: validator.New(),
	}
}

// SendMessageRequest is the body of POST /api/messages/{channel}
type SendMessageRequest struct {
	To      string `json:"to" validate:"required"`
	Body    string `json:"body" validate:"required_without=HTML"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	From    string `json:"from"`
}

// Send handles POST /api/messages/{channel}
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	channel, err := models.ParseChannel(mux.Vars(r)["channel"])
	if err != nil {
		WriteValidationError(w, err.Error())
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteValidationError(w, err.Error())
		return
	}
	if channel == models.ChannelEmail && req.Subject == "" {
		WriteValidationError(w, "subject is required for email")
		return
	}

	opts := service.SendOptions{From: req.From}
	var message *models.Message
	switch channel {
	case models.ChannelSMS:
		message, err = h.outbound.SendSMS(r.Context(), req.To, req.Body, opts)
	case models.ChannelWhatsApp:
		message, err = h.outbound.SendWhatsApp(r.Context(), req.To, req.Body, opts)
	case models.ChannelEmail:
		message, err = h.outbound.SendEmail(r.Context(), req.To, req.Subject, req.Body, req.HTML, opts)
	}
	if err != nil {
		if errors.Is(err, service.ErrMissingCredentials) {
			WriteBusinessLogicError(w, err.Error())
			return
		}
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, message)
}
