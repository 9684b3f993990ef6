package domain

import (
	"context"
	"strings"
	"time"

	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"gorm.io/gorm"
)

// Order is the read model over the platform orders table.
type Order struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Total       int64     `gorm:"column:total"`
	Fees        int64     `gorm:"column:fees"`
	ExternalRef *string   `gorm:"column:external_ref"`
	Status      string    `gorm:"column:status"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (Order) TableName() string { return "orders" }

// Record converts the row into the shape consumed by reconciliation.
func (o *Order) Record() reconciliationdomain.InternalOrderRecord {
	return reconciliationdomain.InternalOrderRecord{
		ID:          o.ID,
		Total:       o.Total,
		Fees:        o.Fees,
		ExternalRef: o.ExternalRef,
		Status:      ParseStatus(o.Status),
		CreatedAt:   o.CreatedAt.UTC(),
	}
}

func ParseStatus(raw string) reconciliationdomain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(reconciliationdomain.OrderStatusSucceeded):
		return reconciliationdomain.OrderStatusSucceeded
	case string(reconciliationdomain.OrderStatusRefunded):
		return reconciliationdomain.OrderStatusRefunded
	default:
		return reconciliationdomain.OrderStatusOther
	}
}

type Repository interface {
	// ListSettled returns succeeded and refunded orders created in [start, end].
	ListSettled(ctx context.Context, db *gorm.DB, start, end time.Time) ([]*Order, error)
}
