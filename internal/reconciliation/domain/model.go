package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionTypeCharge  TransactionType = "charge"
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeRefund  TransactionType = "refund"
	TransactionTypeOther   TransactionType = "other"
)

// LedgerTransaction is one processor balance movement. Amounts are in minor units.
type LedgerTransaction struct {
	ID        string          `json:"id"`
	Amount    int64           `json:"amount"`
	Fee       int64           `json:"fee"`
	Net       int64           `json:"net"`
	Type      TransactionType `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Status    string          `json:"status"`
}

// IsSale reports whether the transaction moves money in from a customer.
func (t LedgerTransaction) IsSale() bool {
	return t.Type == TransactionTypeCharge || t.Type == TransactionTypePayment
}

type OrderStatus string

const (
	OrderStatusSucceeded OrderStatus = "succeeded"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusOther     OrderStatus = "other"
)

// InternalOrderRecord is the platform's own record of a paid order.
type InternalOrderRecord struct {
	ID          string      `json:"id"`
	Total       int64       `json:"total"`
	Fees        int64       `json:"fees"`
	ExternalRef *string     `json:"externalRef,omitempty"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Period is an inclusive time window.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Contains reports whether ts falls inside the window, bounds included.
func (p Period) Contains(ts time.Time) bool {
	return !ts.Before(p.Start) && !ts.After(p.End)
}

type AggregateTotals struct {
	GrossRevenue     int64 `json:"grossRevenue"`
	Fees             int64 `json:"fees"`
	NetRevenue       int64 `json:"netRevenue"`
	TransactionCount int   `json:"transactionCount"`
}

type InternalTotals struct {
	TotalOrders  int   `json:"totalOrders"`
	TotalRevenue int64 `json:"totalRevenue"`
	RecordedFees int64 `json:"recordedFees"`
}

type DiscrepancyType string

const (
	DiscrepancyRevenueMismatch DiscrepancyType = "revenue_mismatch"
	DiscrepancyFeeMismatch     DiscrepancyType = "fee_mismatch"
	DiscrepancyMissingOrder    DiscrepancyType = "missing_order"
)

type Discrepancy struct {
	Type        DiscrepancyType `json:"type"`
	ExternalRef string          `json:"externalRef,omitempty"`
	Amount      *int64          `json:"amount,omitempty"`
	Description string          `json:"description"`
}

// Result is the report produced by one reconciliation run.
type Result struct {
	RunID          string          `json:"runId"`
	Period         Period          `json:"period"`
	LedgerTotals   AggregateTotals `json:"ledgerTotals"`
	InternalTotals InternalTotals  `json:"internalTotals"`
	Discrepancies  []Discrepancy   `json:"discrepancies"`
	Resolved       bool            `json:"resolved"`
}

// LogEntry is the persisted form of a Result. Rows are never updated.
type LogEntry struct {
	ID                     snowflake.ID   `gorm:"primaryKey"`
	RunID                  string         `gorm:"column:run_id"`
	PeriodStart            time.Time      `gorm:"column:period_start"`
	PeriodEnd              time.Time      `gorm:"column:period_end"`
	LedgerGrossRevenue     int64          `gorm:"column:ledger_gross_revenue"`
	LedgerFees             int64          `gorm:"column:ledger_fees"`
	LedgerNetRevenue       int64          `gorm:"column:ledger_net_revenue"`
	LedgerTransactionCount int            `gorm:"column:ledger_transaction_count"`
	InternalTotalOrders    int            `gorm:"column:internal_total_orders"`
	InternalTotalRevenue   int64          `gorm:"column:internal_total_revenue"`
	InternalRecordedFees   int64          `gorm:"column:internal_recorded_fees"`
	DiscrepancyCount       int            `gorm:"column:discrepancy_count"`
	Discrepancies          datatypes.JSON `gorm:"column:discrepancies"`
	Resolved               bool           `gorm:"column:resolved"`
	CreatedAt              time.Time      `gorm:"column:created_at"`
}

func (LogEntry) TableName() string { return "reconciliation_logs" }

// NewLogEntry flattens a result into its persisted row.
func NewLogEntry(id snowflake.ID, result *Result, createdAt time.Time) (*LogEntry, error) {
	discrepancies := result.Discrepancies
	if discrepancies == nil {
		discrepancies = []Discrepancy{}
	}
	payload, err := json.Marshal(discrepancies)
	if err != nil {
		return nil, err
	}

	return &LogEntry{
		ID:                     id,
		RunID:                  result.RunID,
		PeriodStart:            result.Period.Start.UTC(),
		PeriodEnd:              result.Period.End.UTC(),
		LedgerGrossRevenue:     result.LedgerTotals.GrossRevenue,
		LedgerFees:             result.LedgerTotals.Fees,
		LedgerNetRevenue:       result.LedgerTotals.NetRevenue,
		LedgerTransactionCount: result.LedgerTotals.TransactionCount,
		InternalTotalOrders:    result.InternalTotals.TotalOrders,
		InternalTotalRevenue:   result.InternalTotals.TotalRevenue,
		InternalRecordedFees:   result.InternalTotals.RecordedFees,
		DiscrepancyCount:       len(discrepancies),
		Discrepancies:          datatypes.JSON(payload),
		Resolved:               result.Resolved,
		CreatedAt:              createdAt.UTC(),
	}, nil
}

// LogEntryView is the API shape of a persisted log entry.
type LogEntryView struct {
	ID string `json:"id"`
	Result
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (e *LogEntry) View() (LogEntryView, error) {
	discrepancies := []Discrepancy{}
	if len(e.Discrepancies) > 0 {
		if err := json.Unmarshal(e.Discrepancies, &discrepancies); err != nil {
			return LogEntryView{}, err
		}
	}

	period := Period{Start: e.PeriodStart.UTC(), End: e.PeriodEnd.UTC()}
	return LogEntryView{
		ID: e.ID.String(),
		Result: Result{
			RunID:  e.RunID,
			Period: period,
			LedgerTotals: AggregateTotals{
				GrossRevenue:     e.LedgerGrossRevenue,
				Fees:             e.LedgerFees,
				NetRevenue:       e.LedgerNetRevenue,
				TransactionCount: e.LedgerTransactionCount,
			},
			InternalTotals: InternalTotals{
				TotalOrders:  e.InternalTotalOrders,
				TotalRevenue: e.InternalTotalRevenue,
				RecordedFees: e.InternalRecordedFees,
			},
			Discrepancies: discrepancies,
			Resolved:      e.Resolved,
		},
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		CreatedAt:   e.CreatedAt.UTC(),
	}, nil
}
