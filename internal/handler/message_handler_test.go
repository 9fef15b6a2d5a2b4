package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcaster/internal/logger"
	"broadcaster/internal/models"
	"broadcaster/internal/repository"
	"broadcaster/internal/service"
	"broadcaster/internal/transport"
)

func setupMessageRouter(db *sql.DB, withTransport bool) *mux.Router {
	log := logger.Discard()
	customers := repository.NewCustomerRepository(db)
	resolver := service.NewRecipientResolver(service.NewAddressNormalizer("86"),
		repository.NewContactRepository(db), customers, repository.NewSuppressionRepository(db), log)

	var messaging transport.MessagingTransport
	var email transport.EmailTransport
	if withTransport {
		sim := transport.NewSimulatedTransport(1.0).WithLatency(0, 0)
		messaging, email = sim, sim
	}
	outbound := service.NewOutbound(resolver, service.NewTemplateService(false, ""),
		repository.NewMessageRepository(db), customers, messaging, email,
		service.SenderIdentity{SMSFrom: "+15550001111", EmailFrom: "news@example.com"}, "", log)

	return NewRouter(Handlers{Message: NewMessageHandler(outbound)}, log)
}

func postBody(router http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestMessageHandler_SendSMS(t *testing.T) {
	db, mock := NewMockDB(t)
	router := setupMessageRouter(db, true)
	now := time.Now()

	mock.ExpectQuery("SELECT CASE").
		WithArgs("+8613800000000").
		WillReturnRows(sqlmock.NewRows([]string{"reason"}).AddRow(""))
	mock.ExpectQuery("INSERT INTO messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(11, now, now))
	mock.ExpectExec("UPDATE messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO message_events").WillReturnResult(sqlmock.NewResult(0, 1))

	rr := postBody(router, "/api/messages/sms", `{"to": "138 0000 0000", "body": "Your code is 4821"}`)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var message models.Message
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&message))
	assert.Equal(t, int64(11), message.ID)
	assert.Equal(t, "+8613800000000", message.ToAddress)
	assert.Equal(t, "+15550001111", message.FromAddress)
	assert.Equal(t, models.MessageStatusSent, message.Status)
	require.NotNil(t, message.ProviderMessageID)
	assert.True(t, strings.HasPrefix(*message.ProviderMessageID, "SM"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageHandler_BlockedRecipient(t *testing.T) {
	db, mock := NewMockDB(t)
	router := setupMessageRouter(db, true)
	now := time.Now()

	mock.ExpectQuery("SELECT CASE").WillReturnRows(sqlmock.NewRows([]string{"reason"}).AddRow("blacklist"))
	mock.ExpectQuery("INSERT INTO messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(12, now, now))

	rr := postBody(router, "/api/messages/sms", `{"to": "+8613800000000", "body": "hi"}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	var message models.Message
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&message))
	assert.Equal(t, models.MessageStatusBlocked, message.Status)
	assert.Equal(t, "suppressed: blacklist", *message.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageHandler_Rejections(t *testing.T) {
	tests := []struct {
		name          string
		target        string
		body          string
		withTransport bool
		code          string
	}{
		{"unknown channel", "/api/messages/fax", `{"to": "1", "body": "x"}`, true, "VALIDATION_ERROR"},
		{"malformed json", "/api/messages/sms", `{"to":`, true, "INVALID_JSON"},
		{"missing to", "/api/messages/sms", `{"body": "x"}`, true, "VALIDATION_ERROR"},
		{"missing body", "/api/messages/sms", `{"to": "+8613800000000"}`, true, "VALIDATION_ERROR"},
		{"email without subject", "/api/messages/email", `{"to": "a@example.com", "body": "x"}`, true, "VALIDATION_ERROR"},
		{"invalid address", "/api/messages/email", `{"to": "nobody", "subject": "s", "body": "x"}`, true, "VALIDATION_ERROR"},
		{"channel not configured", "/api/messages/whatsapp", `{"to": "+8613800000000", "body": "x"}`, false, "BUSINESS_LOGIC_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := NewMockDB(t)
			router := setupMessageRouter(db, tt.withTransport)

			rr := postBody(router, tt.target, tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.code, decodeError(t, rr).Code)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
