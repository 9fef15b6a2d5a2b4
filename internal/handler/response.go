package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"broadcaster/internal/service"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		return err
	}

	return nil
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

// WriteOK writes a 200 OK response with the given data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 Created response with the given data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteText writes a plain-text body; providers only care about the status code
func WriteText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// WriteValidationError writes a 400 Bad Request response with VALIDATION_ERROR code
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

// WriteNotFoundError writes a 404 Not Found response with RESOURCE_NOT_FOUND code
func WriteNotFoundError(w http.ResponseWriter, resource string, id int64) {
	message := fmt.Sprintf("%s with ID %d not found", resource, id)
	WriteError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", message)
}

// WriteInternalError writes a 500 Internal Server Error response with INTERNAL_ERROR code.
// Internal details are logged, never returned.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

// WriteBusinessLogicError writes a 400 Bad Request response with BUSINESS_LOGIC_ERROR code
func WriteBusinessLogicError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "BUSINESS_LOGIC_ERROR", message)
}

// WriteConflictError writes a 409 Conflict response with CONFLICT code
func WriteConflictError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "CONFLICT", message)
}

// HandleServiceError maps service layer errors to appropriate HTTP responses
func HandleServiceError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *service.NotFoundError:
		WriteNotFoundError(w, e.Resource, e.ID)
	case *service.ValidationError:
		WriteValidationError(w, e.Message)
	case *service.BusinessLogicError:
		WriteBusinessLogicError(w, e.Message)
	case *service.ConflictError:
		WriteConflictError(w, e.Message)
	default:
		slog.Error("unhandled service error", "error", err)
		WriteInternalError(w)
	}
}
