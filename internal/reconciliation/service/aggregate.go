package service

import "github.com/smallbiznis/reconciler/internal/reconciliation/domain"

// AggregateLedger sums processor transactions into gross, fee and net totals.
// Refunds reduce gross and fees by their absolute values so either sign
// convention from the processor yields the same totals. Other types are ignored.
func AggregateLedger(txs []domain.LedgerTransaction) domain.AggregateTotals {
	var totals domain.AggregateTotals
	for _, tx := range txs {
		switch tx.Type {
		case domain.TransactionTypeCharge, domain.TransactionTypePayment:
			totals.GrossRevenue += tx.Amount
			totals.Fees += tx.Fee
			totals.TransactionCount++
		case domain.TransactionTypeRefund:
			totals.GrossRevenue -= abs(tx.Amount)
			totals.Fees -= abs(tx.Fee)
		}
	}
	totals.NetRevenue = totals.GrossRevenue - totals.Fees
	return totals
}

// AggregateOrders sums succeeded orders only. Refunded orders stay out of the
// internal totals; their refunds already reduce the ledger gross.
func AggregateOrders(records []domain.InternalOrderRecord) domain.InternalTotals {
	var totals domain.InternalTotals
	for _, record := range records {
		if record.Status != domain.OrderStatusSucceeded {
			continue
		}
		totals.TotalRevenue += record.Total
		totals.RecordedFees += record.Fees
		totals.TotalOrders++
	}
	return totals
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
