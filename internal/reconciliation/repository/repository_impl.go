package repository

import (
	"context"

	"github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.LogEntry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO reconciliation_logs (
			id, run_id, period_start, period_end,
			ledger_gross_revenue, ledger_fees, ledger_net_revenue, ledger_transaction_count,
			internal_total_orders, internal_total_revenue, internal_recorded_fees,
			discrepancy_count, discrepancies, resolved, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.RunID,
		entry.PeriodStart,
		entry.PeriodEnd,
		entry.LedgerGrossRevenue,
		entry.LedgerFees,
		entry.LedgerNetRevenue,
		entry.LedgerTransactionCount,
		entry.InternalTotalOrders,
		entry.InternalTotalRevenue,
		entry.InternalRecordedFees,
		entry.DiscrepancyCount,
		entry.Discrepancies,
		entry.Resolved,
		entry.CreatedAt,
	).Error
}

// List returns entries newest first. It fetches one row past Limit so the
// caller can tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.LogEntry, error) {
	var logs []*domain.LogEntry
	stmt := db.WithContext(ctx).Model(&domain.LogEntry{})

	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
