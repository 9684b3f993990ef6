package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrInvalidPayload   = errors.New("invalid_payload")
)

// APIError is a non-2xx answer from a processor API.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s api: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s api: status %d: %s", e.Provider, e.StatusCode, e.Message)
}
