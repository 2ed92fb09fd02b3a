package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-success response from a provider's API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// creditsKeywords mark quota, billing and rate-limit failures in provider error text.
var creditsKeywords = []string{"credit", "balance", "billing", "quota", "exceeded", "limit"}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsCreditsError reports whether err is a credits, billing or rate-limit failure.
// Such failures are soft: the provider's credential is still good, it just
// cannot serve this request right now.
func IsCreditsError(err error) bool {
	if err == nil {
		return false
	}
	switch StatusCode(err) {
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range creditsKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
