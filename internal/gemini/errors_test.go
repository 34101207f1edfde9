package gemini

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewAPIError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantStatus  string
	}{
		{"envelope", 400, `{"error":{"code":400,"message":"API key not valid.","status":"INVALID_ARGUMENT"}}`, "API key not valid.", "INVALID_ARGUMENT"},
		{"plain body", 502, "bad gateway\n", "bad gateway", "502 Bad Gateway"},
		{"empty body", 503, "", "Service Unavailable", "503 Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpStatus := fmt.Sprintf("%d %s", tt.status, map[int]string{400: "Bad Request", 502: "Bad Gateway", 503: "Service Unavailable"}[tt.status])
			err := newAPIError(tt.status, httpStatus, []byte(tt.body))
			if err.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMessage)
			}
			if err.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", err.Status, tt.wantStatus)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	notFound := &APIError{StatusCode: 404, Message: "Requested entity was not found."}
	denied := &APIError{StatusCode: 403, Status: "PERMISSION_DENIED", Message: "denied"}
	quota := &APIError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}

	if !IsNotFound(fmt.Errorf("wrapped: %w", notFound)) {
		t.Error("wrapped 404 should be not found")
	}
	if !IsNotFound(errors.New("Requested entity was not found.")) {
		t.Error("plain message should be not found")
	}
	if IsNotFound(quota) {
		t.Error("quota is not a not-found error")
	}
	if !IsAuth(denied) || !IsAuth(ErrNoCredential) {
		t.Error("denied and missing key are auth errors")
	}
	if IsAuth(quota) {
		t.Error("quota is not an auth error")
	}
}
