package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	obscontext "github.com/smallbiznis/reconciler/internal/observability/context"
	obslogger "github.com/smallbiznis/reconciler/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/reconciler/internal/observability/metrics"
	"github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"github.com/smallbiznis/reconciler/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTimeout   = 2 * time.Minute
	defaultMaxWindow = 31 * 24 * time.Hour
	defaultWindow    = 24 * time.Hour

	outcomeResolved      = "resolved"
	outcomeDiscrepancies = "discrepancies"
	outcomeFailed        = "failed"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Ledger     domain.LedgerSource
	Orders     domain.OrderSource
	Repo       domain.Repository
	Thresholds *config.ReconciliationConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics                `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	ledger     domain.LedgerSource
	orders     domain.OrderSource
	repo       domain.Repository
	thresholds *config.ReconciliationConfigHolder
	obsMetrics *obsmetrics.Metrics
	tracer     trace.Tracer
	timeout    time.Duration
	maxWindow  time.Duration
}

func NewService(p Params) domain.Service {
	timeout := p.Cfg.Reconciliation.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxWindow := p.Cfg.Reconciliation.MaxWindow
	if maxWindow <= 0 {
		maxWindow = defaultMaxWindow
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.service"),
		genID:      p.GenID,
		clock:      clk,
		ledger:     p.Ledger,
		orders:     p.Orders,
		repo:       p.Repo,
		thresholds: p.Thresholds,
		obsMetrics: p.ObsMetrics,
		tracer:     otel.Tracer("reconciler/reconciliation"),
		timeout:    timeout,
		maxWindow:  maxWindow,
	}
}

// Reconcile runs one full pass over the requested period. Both sources are
// read to completion before anything is aggregated; a failure on either side
// aborts the run and nothing is persisted.
func (s *Service) Reconcile(ctx context.Context, req domain.RunRequest) (*domain.Result, error) {
	period, err := s.resolvePeriod(req)
	if err != nil {
		return nil, err
	}

	ctx, runID := obscontext.EnsureRunID(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "reconciliation.run", trace.WithAttributes(
		attribute.String("reconciliation.period_start", period.Start.Format(time.RFC3339)),
		attribute.String("reconciliation.period_end", period.End.Format(time.RFC3339)),
		attribute.Bool("reconciliation.log_for_review", req.LogForReview),
	))
	defer span.End()

	log := obslogger.WithContext(ctx, s.log).With(
		zap.Time("period_start", period.Start),
		zap.Time("period_end", period.End),
	)
	started := time.Now()
	log.Info("reconciliation started", zap.Bool("log_for_review", req.LogForReview))

	result, err := s.run(ctx, runID, period)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconciliation failed")
		s.obsMetrics.RecordRun(ctx, outcomeFailed, time.Since(started))
		log.Error("reconciliation failed", zap.Error(err))
		return nil, err
	}

	outcome := outcomeResolved
	if !result.Resolved {
		outcome = outcomeDiscrepancies
	}
	s.obsMetrics.RecordRun(ctx, outcome, time.Since(started))
	for kind, count := range countDiscrepancies(result.Discrepancies) {
		s.obsMetrics.RecordDiscrepancies(ctx, string(kind), count)
	}
	span.SetAttributes(
		attribute.Int("reconciliation.discrepancy_count", len(result.Discrepancies)),
		attribute.Bool("reconciliation.resolved", result.Resolved),
	)

	fields := []zap.Field{
		zap.Bool("resolved", result.Resolved),
		zap.Int("discrepancy_count", len(result.Discrepancies)),
		zap.Int64("ledger_gross_revenue", result.LedgerTotals.GrossRevenue),
		zap.Int64("internal_total_revenue", result.InternalTotals.TotalRevenue),
		zap.Duration("duration", time.Since(started)),
	}
	if result.Resolved {
		log.Info("reconciliation completed", fields...)
	} else {
		log.Warn("reconciliation completed with discrepancies", fields...)
	}

	if req.LogForReview {
		if _, err := s.Record(ctx, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Service) run(ctx context.Context, runID string, period domain.Period) (*domain.Result, error) {
	txs, err := s.fetchLedger(ctx, period)
	if err != nil {
		return nil, err
	}
	records, err := s.fetchOrders(ctx, period)
	if err != nil {
		return nil, err
	}

	_, span := s.tracer.Start(ctx, "reconciliation.detect")
	defer span.End()

	ledgerTotals := AggregateLedger(txs)
	internalTotals := AggregateOrders(records)
	discrepancies := DetectDiscrepancies(ledgerTotals, internalTotals, txs, records, s.currentThresholds())
	span.SetAttributes(attribute.Int("reconciliation.discrepancy_count", len(discrepancies)))

	return BuildResult(runID, period, ledgerTotals, internalTotals, discrepancies), nil
}

func (s *Service) fetchLedger(ctx context.Context, period domain.Period) ([]domain.LedgerTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "reconciliation.fetch_ledger")
	defer span.End()

	txs, err := s.ledger.ListTransactions(ctx, period)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger fetch failed")
		return nil, &domain.FetchError{Source: domain.SourceLedger, Err: err}
	}
	span.SetAttributes(attribute.Int("reconciliation.transaction_count", len(txs)))
	s.obsMetrics.RecordLedgerTransactions(ctx, domain.SourceLedger, len(txs))
	return txs, nil
}

func (s *Service) fetchOrders(ctx context.Context, period domain.Period) ([]domain.InternalOrderRecord, error) {
	ctx, span := s.tracer.Start(ctx, "reconciliation.fetch_orders")
	defer span.End()

	records, err := s.orders.ListOrders(ctx, period)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order fetch failed")
		return nil, &domain.FetchError{Source: domain.SourceOrders, Err: err}
	}
	span.SetAttributes(attribute.Int("reconciliation.order_count", len(records)))
	return records, nil
}

// Record appends result to the audit log when it has discrepancies. It
// reports whether a row was written.
func (s *Service) Record(ctx context.Context, result *domain.Result) (bool, error) {
	if result == nil || len(result.Discrepancies) == 0 {
		return false, nil
	}

	entry, err := domain.NewLogEntry(s.genID.Generate(), result, s.clock.Now())
	if err != nil {
		return false, err
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		obslogger.WithContext(ctx, s.log).Error("failed to write reconciliation log",
			zap.String("run_id", result.RunID),
			zap.Error(err),
		)
		return false, err
	}

	obslogger.WithContext(ctx, s.log).Info("reconciliation logged for review",
		zap.String("log_id", entry.ID.String()),
		zap.Int("discrepancy_count", entry.DiscrepancyCount),
	)
	return true, nil
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	var cursor *domain.LogCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.LogCursor{ID: id, CreatedAt: createdAt.UTC()}
	}

	limit := pagination.NormalizeLimit(req.Limit)
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{Cursor: cursor, Limit: limit})
	if err != nil {
		return domain.HistoryResponse{}, err
	}

	items, pageInfo := pagination.Page(items, limit, func(item *domain.LogEntry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	logs := make([]domain.LogEntryView, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		view, err := item.View()
		if err != nil {
			return domain.HistoryResponse{}, err
		}
		logs = append(logs, view)
	}

	return domain.HistoryResponse{Logs: logs, PageInfo: pageInfo}, nil
}

// resolvePeriod applies the default window and validates the bounds before
// any source is contacted.
func (s *Service) resolvePeriod(req domain.RunRequest) (domain.Period, error) {
	end := s.clock.Now().UTC()
	if req.End != nil {
		end = req.End.UTC()
	}
	start := end.Add(-defaultWindow)
	if req.Start != nil {
		start = req.Start.UTC()
	}

	period := domain.Period{Start: start, End: end}
	if !period.Start.Before(period.End) {
		return domain.Period{}, domain.ErrInvalidPeriod
	}
	if period.Duration() > s.maxWindow {
		return domain.Period{}, domain.ErrWindowTooLarge
	}
	return period, nil
}

func (s *Service) currentThresholds() Thresholds {
	cfg := s.thresholds.Get()
	return Thresholds{
		Revenue: cfg.RevenueThreshold(),
		Fee:     cfg.FeeThreshold(),
	}
}

func countDiscrepancies(discrepancies []domain.Discrepancy) map[domain.DiscrepancyType]int {
	counts := map[domain.DiscrepancyType]int{}
	for _, d := range discrepancies {
		counts[d.Type]++
	}
	return counts
}
