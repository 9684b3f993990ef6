package service

import "github.com/smallbiznis/reconciler/internal/reconciliation/domain"

func BuildResult(
	runID string,
	period domain.Period,
	ledger domain.AggregateTotals,
	internal domain.InternalTotals,
	discrepancies []domain.Discrepancy,
) *domain.Result {
	if discrepancies == nil {
		discrepancies = []domain.Discrepancy{}
	}
	return &domain.Result{
		RunID:          runID,
		Period:         period,
		LedgerTotals:   ledger,
		InternalTotals: internal,
		Discrepancies:  discrepancies,
		Resolved:       len(discrepancies) == 0,
	}
}
