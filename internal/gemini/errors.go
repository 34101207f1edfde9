package gemini

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrNoCredential = errors.New("no API key selected")

// APIError is any non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini API %d", e.StatusCode)
	}
	return fmt.Sprintf("gemini API %d: %s", e.StatusCode, e.Message)
}

// newAPIError digs the human-readable message out of the Google error envelope:
// {"error": {"code": 404, "message": "...", "status": "NOT_FOUND"}}.
func newAPIError(statusCode int, httpStatus string, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Status: httpStatus}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if msg := parsed.Get("error.message"); msg.Exists() {
			apiErr.Message = strings.TrimSpace(msg.String())
		}
		if status := parsed.Get("error.status"); status.Exists() && status.String() != "" {
			apiErr.Status = status.String()
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}

// IsNotFound reports whether err is the provider's "entity not found" class.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound ||
			apiErr.Status == "NOT_FOUND" ||
			strings.Contains(apiErr.Message, "Requested entity was not found")
	}
	return err != nil && strings.Contains(err.Error(), "Requested entity was not found")
}

// IsAuth reports whether the provider rejected the key.
func IsAuth(err error) bool {
	if errors.Is(err, ErrNoCredential) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return apiErr.Status == "PERMISSION_DENIED" || apiErr.Status == "UNAUTHENTICATED" ||
		strings.Contains(apiErr.Message, "API key not valid")
}
