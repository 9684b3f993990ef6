package service

import (
	"context"

	"github.com/smallbiznis/reconciler/internal/order/domain"
	reconciliationdomain "github.com/smallbiznis/reconciler/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p Params) reconciliationdomain.OrderSource {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("order.service"),
		repo: p.Repo,
	}
}

func (s *Service) ListOrders(ctx context.Context, period reconciliationdomain.Period) ([]reconciliationdomain.InternalOrderRecord, error) {
	rows, err := s.repo.ListSettled(ctx, s.db, period.Start, period.End)
	if err != nil {
		return nil, err
	}

	records := make([]reconciliationdomain.InternalOrderRecord, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		records = append(records, row.Record())
	}

	s.log.Debug("loaded internal orders",
		zap.Time("start", period.Start),
		zap.Time("end", period.End),
		zap.Int("count", len(records)),
	)
	return records, nil
}
