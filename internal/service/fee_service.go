package service

import (
	"math"

	"crypto-escrow-gateway/pkg/apperror"
)

// FixedRateFeeService implements ports.FeeCalculator with a fixed basis-point
// rate. All arithmetic is integer-only on minor units; the rounding is
// half-to-even so the drift over many escrows averages out to zero.
type FixedRateFeeService struct {
	rateBps int64
}

// NewFixedRateFeeService creates a fee calculator for the given rate in basis
// points (150 = 1.5%).
func NewFixedRateFeeService(rateBps int64) *FixedRateFeeService {
	return &FixedRateFeeService{rateBps: rateBps}
}

// RateBps returns the configured fee rate, frozen onto each escrow at creation.
func (s *FixedRateFeeService) RateBps() int64 {
	return s.rateBps
}

// ComputeFee splits gross into (fee, net) with fee + net == gross exactly.
func (s *FixedRateFeeService) ComputeFee(gross int64) (int64, int64, error) {
	if gross <= 0 {
		return 0, 0, apperror.ErrInvalidAmount()
	}
	if s.rateBps < 0 || s.rateBps > 10000 {
		return 0, 0, apperror.Validation("fee rate out of range")
	}
	if s.rateBps > 0 && gross > math.MaxInt64/s.rateBps {
		return 0, 0, apperror.ErrInvalidAmount()
	}

	num := gross * s.rateBps
	fee := num / 10000
	rem := num % 10000

	// Banker's rounding on the truncated division above.
	switch {
	case rem*2 > 10000:
		fee++
	case rem*2 == 10000 && fee%2 == 1:
		fee++
	}

	return fee, gross - fee, nil
}
