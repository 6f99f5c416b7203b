package spark

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// APIError is a non-2xx response, or a 2xx response whose body carries an
// errorCode. Use errors.As to inspect it:
//
//	var apiErr *spark.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized { ... }
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	TrackingID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("spark: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("spark: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsAPIError reports whether err is an *APIError with the given status.
func IsAPIError(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}

// errorBody is the shape Spark uses for failures. errorCode is numeric on
// some endpoints and a string on others.
type errorBody struct {
	ErrorCode  json.RawMessage `json:"errorCode"`
	Message    string          `json:"message"`
	TrackingID string          `json:"trackingId"`
}

func (b errorBody) code() string {
	if len(b.ErrorCode) == 0 || string(b.ErrorCode) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.ErrorCode, &s); err == nil {
		return s
	}
	return string(b.ErrorCode)
}

// bodyError returns an *APIError when body reports an errorCode.
func bodyError(status int, body []byte) *APIError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return nil
	}
	code := eb.code()
	if code == "" {
		return nil
	}
	return &APIError{StatusCode: status, Code: code, Message: eb.Message, TrackingID: eb.TrackingID}
}
