package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/pkg/db/pagination"
	"gorm.io/gorm"
)

//go:generate mockgen -source=service.go -destination=mocks/mock_sources.go -package=mocks

// LedgerSource returns every processor transaction created inside the period.
type LedgerSource interface {
	ListTransactions(ctx context.Context, period Period) ([]LedgerTransaction, error)
}

// OrderSource returns succeeded and refunded internal orders created inside the period.
type OrderSource interface {
	ListOrders(ctx context.Context, period Period) ([]InternalOrderRecord, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *LogEntry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*LogEntry, error)
}

type LogCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Cursor *LogCursor
	Limit  int
}

type RunRequest struct {
	Start        *time.Time
	End          *time.Time
	LogForReview bool
}

type HistoryRequest struct {
	PageToken string
	Limit     int
}

type HistoryResponse struct {
	Logs     []LogEntryView      `json:"logs"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Reconcile(ctx context.Context, req RunRequest) (*Result, error)
	Record(ctx context.Context, result *Result) (bool, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
}
