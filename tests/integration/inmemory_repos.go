package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// In-memory repository implementations backing full-stack tests. They honor
// the same contracts as the postgres adapters (CAS index bump, guarded
// transitions) under a mutex, so the service layer runs unmodified.

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

type inMemoryTransactor struct{}

func (inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return fakeTx{}, nil
}

// --- Wallet repository ---

type inMemoryWalletRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*domain.Wallet
}

func newInMemoryWalletRepo() *inMemoryWalletRepo {
	return &inMemoryWalletRepo{wallets: make(map[uuid.UUID]*domain.Wallet)}
}

func (r *inMemoryWalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *w
	r.wallets[w.ID] = &cp
	return nil
}

func (r *inMemoryWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *inMemoryWalletRepo) GetByIDInTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryWalletRepo) GetActivePrimary(ctx context.Context, currency string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*domain.Wallet
	for _, w := range r.wallets {
		if w.Currency == currency && w.IsActive {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].IsPrimary != candidates[j].IsPrimary {
			return candidates[i].IsPrimary
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

func (r *inMemoryWalletRepo) List(ctx context.Context, currency string) ([]domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Wallet
	for _, w := range r.wallets {
		if currency == "" || w.Currency == currency {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *inMemoryWalletRepo) CompareAndBumpIndex(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, expected uint32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok || w.NextIndex != expected {
		return false, nil
	}
	w.NextIndex = expected + 1
	w.UpdatedAt = time.Now()
	return true, nil
}

func (r *inMemoryWalletRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[id]; ok {
		w.IsActive = active
		w.UpdatedAt = time.Now()
	}
	return nil
}

func (r *inMemoryWalletRepo) Promote(ctx context.Context, tx pgx.Tx, id uuid.UUID, currency string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.Currency == currency {
			w.IsPrimary = w.ID == id
		}
	}
	return nil
}

// --- Address repository ---

type inMemoryAddressRepo struct {
	mu        sync.Mutex
	byAddress map[string]*domain.AllocatedAddress
}

func newInMemoryAddressRepo() *inMemoryAddressRepo {
	return &inMemoryAddressRepo{byAddress: make(map[string]*domain.AllocatedAddress)}
}

func (r *inMemoryAddressRepo) Create(ctx context.Context, tx pgx.Tx, addr *domain.AllocatedAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *addr
	r.byAddress[addr.Address] = &cp
	return nil
}

func (r *inMemoryAddressRepo) GetByAddress(ctx context.Context, address string) (*domain.AllocatedAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byAddress[address]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *inMemoryAddressRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.AllocatedAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AllocatedAddress
	for _, a := range r.byAddress {
		if a.WalletID == walletID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index > out[j].Index })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Escrow repository ---

type inMemoryEscrowRepo struct {
	mu      sync.Mutex
	escrows map[uuid.UUID]*domain.Escrow
}

func newInMemoryEscrowRepo() *inMemoryEscrowRepo {
	return &inMemoryEscrowRepo{escrows: make(map[uuid.UUID]*domain.Escrow)}
}

func (r *inMemoryEscrowRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.escrows[e.ID] = &cp
	return nil
}

func (r *inMemoryEscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.escrows[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryEscrowRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Escrow, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryEscrowRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.escrows {
		if e.OrderID == orderID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryEscrowRepo) GetByAddress(ctx context.Context, address string) (*domain.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.escrows {
		if e.Address == address {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryEscrowRepo) UpdateTransition(ctx context.Context, tx pgx.Tx, e *domain.Escrow, from domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.escrows[e.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	cp := *e
	r.escrows[e.ID] = &cp
	return true, nil
}

func (r *inMemoryEscrowRepo) ListWatched(ctx context.Context, expiredAfter time.Time, limit int) ([]domain.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Escrow
	for _, e := range r.escrows {
		switch e.Status {
		case domain.StatusCreated, domain.StatusAwaitingPayment:
			out = append(out, *e)
		case domain.StatusExpired:
			if e.ExpiresAt.After(expiredAfter) {
				out = append(out, *e)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryEscrowRepo) ListExpirable(ctx context.Context, before time.Time, limit int) ([]domain.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Escrow
	for _, e := range r.escrows {
		if (e.Status == domain.StatusCreated || e.Status == domain.StatusAwaitingPayment) && !e.ExpiresAt.After(before) {
			out = append(out, *e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryEscrowRepo) ListAutoReleasable(ctx context.Context, before time.Time, limit int) ([]domain.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Escrow
	for _, e := range r.escrows {
		if e.Status == domain.StatusHeld && e.AutoReleaseAt != nil && !e.AutoReleaseAt.After(before) {
			out = append(out, *e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryEscrowRepo) List(ctx context.Context, params ports.EscrowListParams) ([]domain.Escrow, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []domain.Escrow
	for _, e := range r.escrows {
		if params.Status != nil && e.Status != *params.Status {
			continue
		}
		if params.BuyerID != nil && e.BuyerID != *params.BuyerID {
			continue
		}
		matched = append(matched, *e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start > len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *inMemoryEscrowRepo) GetStats(ctx context.Context) (*ports.EscrowStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &ports.EscrowStats{}
	for _, e := range r.escrows {
		stats.TotalEscrows++
		switch e.Status {
		case domain.StatusAwaitingPayment:
			stats.AwaitingCount++
		case domain.StatusHeld:
			stats.HeldCount++
			stats.GrossHeld += e.GrossAmount
		case domain.StatusDisputed:
			stats.DisputedCount++
			stats.GrossHeld += e.GrossAmount
		case domain.StatusReleased:
			stats.ReleasedCount++
			stats.FeesCollected += e.FeeAmount
			stats.NetReleased += e.NetAmount
		case domain.StatusRefunded:
			stats.RefundedCount++
		case domain.StatusExpired:
			stats.ExpiredCount++
		}
		if e.NeedsReconciliation {
			stats.Reconciliation++
		}
	}
	return stats, nil
}

// --- Confirmation repository ---

type inMemoryConfirmationRepo struct {
	mu   sync.Mutex
	seen map[string]*domain.ProcessedConfirmation
}

func newInMemoryConfirmationRepo() *inMemoryConfirmationRepo {
	return &inMemoryConfirmationRepo{seen: make(map[string]*domain.ProcessedConfirmation)}
}

func (r *inMemoryConfirmationRepo) Create(ctx context.Context, tx pgx.Tx, pc *domain.ProcessedConfirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pc
	r.seen[pc.Key] = &cp
	return nil
}

func (r *inMemoryConfirmationRepo) Get(ctx context.Context, key string) (*domain.ProcessedConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.seen[key]
	if !ok {
		return nil, nil
	}
	cp := *pc
	return &cp, nil
}

// --- Notification repository ---

type inMemoryNotificationRepo struct {
	mu   sync.Mutex
	logs []domain.NotificationDeliveryLog
}

func newInMemoryNotificationRepo() *inMemoryNotificationRepo {
	return &inMemoryNotificationRepo{}
}

func (r *inMemoryNotificationRepo) Create(ctx context.Context, log *domain.NotificationDeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *inMemoryNotificationRepo) Update(ctx context.Context, log *domain.NotificationDeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.logs {
		if r.logs[i].ID == log.ID {
			r.logs[i] = *log
			return nil
		}
	}
	return nil
}

// --- Audit repository ---

type inMemoryAuditRepo struct {
	mu   sync.Mutex
	logs []domain.AuditLog
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *inMemoryAuditRepo) List(ctx context.Context, resourceType, resourceID string, limit int) ([]domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if l.ResourceType == resourceType && l.ResourceID == resourceID {
			out = append(out, l)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
