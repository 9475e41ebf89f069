package adarchive

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-200 response from the archive API
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("archive API error (HTTP %d, code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("archive API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsPageSizeError reports whether the API asked for a smaller page.
// The API signals this either with error code 1 or a "please reduce" message.
func (e *APIError) IsPageSizeError() bool {
	return e.Code == 1 || strings.Contains(strings.ToLower(e.Message), "reduce")
}

// IsTransient reports whether the error is worth a short retry
func (e *APIError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusInternalServerError
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}
