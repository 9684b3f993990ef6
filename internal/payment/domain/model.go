package domain

import (
	"context"
	"net/http"

	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
)

// AdapterConfig carries provider settings. Config keys are provider specific
// (api_key, base_url, page_size for stripe).
type AdapterConfig struct {
	Config     map[string]any
	HTTPClient *http.Client
}

// LedgerAdapter reads balance movements from a payment processor.
type LedgerAdapter interface {
	Provider() string
	ListTransactions(ctx context.Context, period reconciliationdomain.Period) ([]reconciliationdomain.LedgerTransaction, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (LedgerAdapter, error)
}
