package service

import (
	"context"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

// ReportingServiceImpl implements ports.ReportingService for the operator
// dashboard.
type ReportingServiceImpl struct {
	escrowRepo ports.EscrowRepository
	logger     zerolog.Logger
}

// NewReportingService creates a new reporting service.
func NewReportingService(escrowRepo ports.EscrowRepository, logger zerolog.Logger) *ReportingServiceImpl {
	return &ReportingServiceImpl{escrowRepo: escrowRepo, logger: logger}
}

// GetDashboardStats returns aggregate escrow counts and amount totals.
func (s *ReportingServiceImpl) GetDashboardStats(ctx context.Context) (*ports.EscrowStats, error) {
	stats, err := s.escrowRepo.GetStats(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return stats, nil
}

// ListEscrows returns a filtered, paginated escrow list plus the total count.
func (s *ReportingServiceImpl) ListEscrows(ctx context.Context, params ports.EscrowListParams) ([]domain.Escrow, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}
	escrows, total, err := s.escrowRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return escrows, total, nil
}
