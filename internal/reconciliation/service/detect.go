package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reconciler/internal/reconciliation/domain"
)

// Thresholds are variance tolerances expressed as fractions of the ledger value.
type Thresholds struct {
	Revenue decimal.Decimal
	Fee     decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Revenue: decimal.RequireFromString("0.01"),
		Fee:     decimal.RequireFromString("0.01"),
	}
}

var hundred = decimal.NewFromInt(100)

// DetectDiscrepancies compares both sides of a run. The three rules are
// independent and the output order is fixed: revenue, fees, then missing
// orders in ledger order.
func DetectDiscrepancies(
	ledger domain.AggregateTotals,
	internal domain.InternalTotals,
	txs []domain.LedgerTransaction,
	records []domain.InternalOrderRecord,
	thresholds Thresholds,
) []domain.Discrepancy {
	discrepancies := []domain.Discrepancy{}

	if d, ok := detectRevenueMismatch(ledger, internal, thresholds.Revenue); ok {
		discrepancies = append(discrepancies, d)
	}
	if d, ok := detectFeeMismatch(ledger, internal, thresholds.Fee); ok {
		discrepancies = append(discrepancies, d)
	}
	discrepancies = append(discrepancies, detectMissingOrders(txs, records)...)

	return discrepancies
}

// Percentage variance is undefined for an empty ledger, so the rule is skipped.
func detectRevenueMismatch(ledger domain.AggregateTotals, internal domain.InternalTotals, threshold decimal.Decimal) (domain.Discrepancy, bool) {
	if ledger.GrossRevenue == 0 {
		return domain.Discrepancy{}, false
	}

	variance := abs(ledger.GrossRevenue - internal.TotalRevenue)
	base := decimal.NewFromInt(abs(ledger.GrossRevenue))
	if !decimal.NewFromInt(variance).GreaterThan(base.Mul(threshold)) {
		return domain.Discrepancy{}, false
	}

	pct := decimal.NewFromInt(variance).Mul(hundred).Div(base)
	return domain.Discrepancy{
		Type:   domain.DiscrepancyRevenueMismatch,
		Amount: int64Ptr(variance),
		Description: fmt.Sprintf("Revenue mismatch: ledger gross %s vs internal %s (%s%% variance)",
			formatMinor(ledger.GrossRevenue),
			formatMinor(internal.TotalRevenue),
			pct.StringFixed(2),
		),
	}, true
}

func detectFeeMismatch(ledger domain.AggregateTotals, internal domain.InternalTotals, threshold decimal.Decimal) (domain.Discrepancy, bool) {
	variance := abs(ledger.Fees - internal.RecordedFees)
	base := decimal.NewFromInt(abs(ledger.Fees))
	if !decimal.NewFromInt(variance).GreaterThan(base.Mul(threshold)) {
		return domain.Discrepancy{}, false
	}

	return domain.Discrepancy{
		Type:   domain.DiscrepancyFeeMismatch,
		Amount: int64Ptr(variance),
		Description: fmt.Sprintf("Fee mismatch: ledger fees %s vs recorded %s (difference %s)",
			formatMinor(ledger.Fees),
			formatMinor(internal.RecordedFees),
			formatMinor(variance),
		),
	}, true
}

// detectMissingOrders flags sale transactions no internal record points at.
// Refunded records still count as matches.
func detectMissingOrders(txs []domain.LedgerTransaction, records []domain.InternalOrderRecord) []domain.Discrepancy {
	refs := make(map[string]struct{}, len(records))
	for _, record := range records {
		if record.ExternalRef == nil {
			continue
		}
		ref := strings.TrimSpace(*record.ExternalRef)
		if ref == "" {
			continue
		}
		refs[ref] = struct{}{}
	}

	var missing []domain.Discrepancy
	for _, tx := range txs {
		if !tx.IsSale() {
			continue
		}
		if _, ok := refs[tx.ID]; ok {
			continue
		}
		missing = append(missing, domain.Discrepancy{
			Type:        domain.DiscrepancyMissingOrder,
			ExternalRef: tx.ID,
			Amount:      int64Ptr(tx.Amount),
			Description: fmt.Sprintf("Ledger %s %s of %s has no matching internal order", tx.Type, tx.ID, formatMinor(tx.Amount)),
		})
	}
	return missing
}

// formatMinor renders minor units as a two-decimal major amount.
func formatMinor(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}

func int64Ptr(v int64) *int64 {
	return &v
}
