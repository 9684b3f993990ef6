package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/reconciler/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListSettled(ctx context.Context, db *gorm.DB, start, end time.Time) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, total, fees, external_ref, status, created_at
		FROM orders
		WHERE status IN (?, ?)
		AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC`,
		"succeeded",
		"refunded",
		start.UTC(),
		end.UTC(),
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
