package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"crypto-escrow-gateway/config"
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// notifyRetryIntervals is the delivery retry schedule for storefront
// callbacks.
var notifyRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// CallbackPayload is the JSON structure sent to the storefront callback URL.
type CallbackPayload struct {
	EventType string              `json:"event_type"`
	Data      CallbackPayloadData `json:"data"`
	Signature string              `json:"signature"`
}

// CallbackPayloadData holds the escrow details in the callback.
type CallbackPayloadData struct {
	OrderID             string `json:"order_id"`
	EscrowID            string `json:"escrow_id"`
	Status              string `json:"status"`
	GrossAmount         int64  `json:"gross_amount"`
	NetAmount           int64  `json:"net_amount"`
	Currency            string `json:"currency"`
	FundingTxID         string `json:"funding_txid,omitempty"`
	NeedsReconciliation bool   `json:"needs_reconciliation"`
	Timestamp           int64  `json:"timestamp"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StorefrontNotifier implements ports.NotificationService. Every state change
// is pushed to the storefront's callback URL, signed with the shared secret,
// and each attempt is logged for the operator dashboard.
type StorefrontNotifier struct {
	notifRepo  ports.NotificationRepository
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	cfg        config.StorefrontConfig
	logger     zerolog.Logger
}

// NewStorefrontNotifier creates a new storefront notification service.
func NewStorefrontNotifier(
	notifRepo ports.NotificationRepository,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	cfg config.StorefrontConfig,
	logger zerolog.Logger,
) *StorefrontNotifier {
	return &StorefrontNotifier{
		notifRepo:  notifRepo,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}
}

// NotifyTransition sends a signed callback for the escrow's new state,
// asynchronously with retries. The synchronous part only validates and
// records the pending delivery; transport failures never block a transition.
func (s *StorefrontNotifier) NotifyTransition(ctx context.Context, escrow *domain.Escrow, eventType string) error {
	if s.cfg.CallbackURL == "" {
		s.logger.Debug().Str("escrow_id", escrow.ID.String()).Msg("no callback URL configured, skipping notification")
		return nil
	}

	data := CallbackPayloadData{
		OrderID:             escrow.OrderID,
		EscrowID:            escrow.ID.String(),
		Status:              string(escrow.Status),
		GrossAmount:         escrow.GrossAmount,
		NetAmount:           escrow.NetAmount,
		Currency:            escrow.Currency,
		NeedsReconciliation: escrow.NeedsReconciliation,
		Timestamp:           time.Now().Unix(),
	}
	if escrow.FundingTxID != nil {
		data.FundingTxID = *escrow.FundingTxID
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload := CallbackPayload{
		EventType: eventType,
		Data:      data,
		Signature: s.sigSvc.Sign(s.cfg.SecretKey, string(dataBytes)),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	deliveryLog := &domain.NotificationDeliveryLog{
		ID:          uuid.New(),
		EscrowID:    escrow.ID,
		EventType:   eventType,
		CallbackURL: s.cfg.CallbackURL,
		Payload:     string(payloadBytes),
		Status:      domain.NotificationStatusPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.notifRepo.Create(ctx, deliveryLog); err != nil {
		s.logger.Error().Err(err).Str("escrow_id", escrow.ID.String()).Msg("failed to record notification")
		return err
	}

	go s.deliverWithRetries(deliveryLog, payloadBytes)
	return nil
}

// deliverWithRetries attempts delivery until a 2xx response or the schedule
// is exhausted, updating the delivery log after the final outcome.
func (s *StorefrontNotifier) deliverWithRetries(deliveryLog *domain.NotificationDeliveryLog, payloadBytes []byte) {
	ctx := context.Background()

	for attempt := 0; attempt <= len(notifyRetryIntervals); attempt++ {
		if attempt > 0 {
			time.Sleep(notifyRetryIntervals[attempt-1])
		}
		deliveryLog.Attempt = attempt + 1

		req, err := http.NewRequest(http.MethodPost, deliveryLog.CallbackURL, bytes.NewReader(payloadBytes))
		if err != nil {
			s.recordFailure(ctx, deliveryLog, nil, err.Error())
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("escrow_id", deliveryLog.EscrowID.String()).
				Int("attempt", deliveryLog.Attempt).
				Msg("callback delivery failed")
			s.recordFailure(ctx, deliveryLog, nil, err.Error())
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			status := resp.StatusCode
			deliveryLog.HTTPStatus = &status
			deliveryLog.Status = domain.NotificationStatusDelivered
			deliveryLog.UpdatedAt = time.Now().UTC()
			if err := s.notifRepo.Update(ctx, deliveryLog); err != nil {
				s.logger.Error().Err(err).Msg("failed to update notification log")
			}
			metrics.NotificationDeliveriesTotal.WithLabelValues("delivered").Inc()
			s.logger.Info().
				Str("escrow_id", deliveryLog.EscrowID.String()).
				Str("event_type", deliveryLog.EventType).
				Int("attempt", deliveryLog.Attempt).
				Msg("callback delivered")
			return
		}

		s.logger.Warn().
			Str("escrow_id", deliveryLog.EscrowID.String()).
			Int("attempt", deliveryLog.Attempt).
			Int("status", resp.StatusCode).
			Msg("non-2xx callback response, retrying")
		s.recordFailure(ctx, deliveryLog, &resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	metrics.NotificationDeliveriesTotal.WithLabelValues("failed").Inc()
	s.logger.Error().
		Str("escrow_id", deliveryLog.EscrowID.String()).
		Str("event_type", deliveryLog.EventType).
		Msg("callback retries exhausted")
}

func (s *StorefrontNotifier) recordFailure(ctx context.Context, deliveryLog *domain.NotificationDeliveryLog, httpStatus *int, reason string) {
	deliveryLog.HTTPStatus = httpStatus
	deliveryLog.Status = domain.NotificationStatusFailed
	deliveryLog.LastError = &reason
	deliveryLog.UpdatedAt = time.Now().UTC()
	if err := s.notifRepo.Update(ctx, deliveryLog); err != nil {
		s.logger.Error().Err(err).Msg("failed to update notification log")
	}
}
