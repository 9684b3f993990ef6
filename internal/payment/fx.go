package payment

import (
	"fmt"
	"net/http"

	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/payment/adapters"
	"github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	"github.com/smallbiznis/reconciler/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.ledger",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(NewLedgerSource),
)

// NewLedgerSource builds the configured processor adapter. An unknown or
// misconfigured provider fails startup.
func NewLedgerSource(cfg config.Config, registry *adapters.Registry, log *zap.Logger) (reconciliationdomain.LedgerSource, error) {
	provider := cfg.Ledger.Provider
	if !registry.ProviderExists(provider) {
		return nil, fmt.Errorf("ledger provider %q: %w", provider, domain.ErrProviderNotFound)
	}

	adapter, err := registry.NewAdapter(provider, domain.AdapterConfig{
		Config: map[string]any{
			"api_key":   cfg.Ledger.APIKey,
			"base_url":  cfg.Ledger.BaseURL,
			"page_size": cfg.Ledger.PageSize,
		},
		HTTPClient: &http.Client{Timeout: cfg.Ledger.HTTPTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger provider %q: %w", provider, err)
	}

	log.Named("payment.ledger").Info("ledger adapter configured", zap.String("provider", adapter.Provider()))
	return adapter, nil
}
