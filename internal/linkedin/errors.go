package linkedin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoToken is returned when the client has no access token.
var ErrNoToken = errors.New("linkedin: access token not configured")

// APIError is a non-success response from the LinkedIn API.
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("linkedin %s: %d - %s", e.Op, e.Status, msg)
}

func newAPIError(op string, status int, body []byte) *APIError {
	e := &APIError{Op: op, Status: status, Message: strings.TrimSpace(string(body))}
	var payload struct {
		Message          string `json:"message"`
		ServiceErrorCode int    `json:"serviceErrorCode"`
		Code             string `json:"code"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			e.Message = payload.Message
		}
		e.Code = payload.Code
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// IsDuplicate reports whether err signals that identical content was
// already posted: a DUPLICATE_POST code or message, or status 422.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnprocessableEntity {
			return true
		}
		return strings.Contains(apiErr.Code, "DUPLICATE_POST") || strings.Contains(apiErr.Message, "DUPLICATE_POST")
	}
	msg := err.Error()
	return strings.Contains(msg, "DUPLICATE_POST") || strings.Contains(msg, "422")
}
