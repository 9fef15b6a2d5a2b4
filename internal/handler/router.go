package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"broadcaster/internal/middleware"
)

// Handlers bundles everything the API router mounts
type Handlers struct {
	Health   *HealthHandler
	Campaign *CampaignHandler
	Message  *MessageHandler
	Preview  *PreviewHandler
	Webhook  *WebhookHandler
}

// NewRouter wires every route. Nil handlers leave their routes unmounted.
func NewRouter(h Handlers, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger), middleware.Logging(logger))

	if h.Health != nil {
		router.HandleFunc("/health", h.Health.HandleHealth).Methods(http.MethodGet)
	}
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	if h.Campaign != nil {
		api.HandleFunc("/campaigns/{family}/{id}/start", h.Campaign.Start).Methods(http.MethodPost)
		api.HandleFunc("/campaigns/{family}/{id}/pause", h.Campaign.Pause).Methods(http.MethodPost)
		api.HandleFunc("/campaigns/{family}/{id}/resume", h.Campaign.Resume).Methods(http.MethodPost)
		api.HandleFunc("/campaigns/{family}/{id}/cancel", h.Campaign.Cancel).Methods(http.MethodPost)
		api.HandleFunc("/campaigns/{family}/{id}/stats", h.Campaign.Stats).Methods(http.MethodGet)
		api.HandleFunc("/marketing/campaigns/{id}/customers/{customerID}/pause", h.Campaign.PauseCustomer).Methods(http.MethodPost)
		api.HandleFunc("/marketing/campaigns/{id}/customers/{customerID}/resume", h.Campaign.ResumeCustomer).Methods(http.MethodPost)
	}
	if h.Message != nil {
		api.HandleFunc("/messages/{channel}", h.Message.Send).Methods(http.MethodPost)
	}
	if h.Preview != nil {
		api.HandleFunc("/templates/preview", h.Preview.Preview).Methods(http.MethodPost)
	}

	if h.Webhook != nil {
		hooks := router.PathPrefix("/webhooks").Subrouter()
		hooks.HandleFunc("/twilio/sms/status", h.Webhook.TwilioSMSStatus).Methods(http.MethodPost)
		hooks.HandleFunc("/twilio/sms/inbound", h.Webhook.TwilioSMSInbound).Methods(http.MethodPost)
		hooks.HandleFunc("/twilio/whatsapp/status", h.Webhook.TwilioWhatsAppStatus).Methods(http.MethodPost)
		hooks.HandleFunc("/twilio/whatsapp/inbound", h.Webhook.TwilioWhatsAppInbound).Methods(http.MethodPost)
		hooks.HandleFunc("/sendgrid/events", h.Webhook.SendGridEvents).Methods(http.MethodPost)
		hooks.HandleFunc("/sendgrid/inbound", h.Webhook.SendGridInbound).Methods(http.MethodPost)
	}

	return router
}
