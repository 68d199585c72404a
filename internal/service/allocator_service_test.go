package service

import (
	"context"
	"errors"
	"testing"

	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports/mocks"
	"crypto-escrow-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type allocatorTestDeps struct {
	svc        *AddressAllocatorImpl
	walletRepo *mocks.MockWalletRepository
	addrRepo   *mocks.MockAddressRepository
	deriver    *mocks.MockKeyDeriver
	encSvc     *mocks.MockEncryptionService
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupAllocator(t *testing.T) *allocatorTestDeps {
	ctrl := gomock.NewController(t)
	d := &allocatorTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		addrRepo:   mocks.NewMockAddressRepository(ctrl),
		deriver:    mocks.NewMockKeyDeriver(ctrl),
		encSvc:     mocks.NewMockEncryptionService(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewAddressAllocator(
		d.walletRepo, d.addrRepo, d.deriver, d.encSvc, d.transactor, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func activeWallet(id uuid.UUID, nextIndex uint32) *domain.Wallet {
	return &domain.Wallet{
		ID:            id,
		Currency:      "BTC",
		XPubEncrypted: "encrypted-xpub",
		NextIndex:     nextIndex,
		IsActive:      true,
		IsPrimary:     true,
	}
}

func TestAddressAllocator_AllocateInTx_Success(t *testing.T) {
	d := setupAllocator(t)
	defer d.ctrl.Finish()

	walletID := uuid.New()
	escrowID := uuid.New()
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByIDInTx(gomock.Any(), tx, walletID).Return(activeWallet(walletID, 42), nil)
	d.encSvc.EXPECT().Decrypt("encrypted-xpub").Return("xpub-plain", nil)
	d.deriver.EXPECT().Derive("xpub-plain", uint32(42)).Return("bc1qexample", nil)
	d.walletRepo.EXPECT().CompareAndBumpIndex(gomock.Any(), tx, walletID, uint32(42)).Return(true, nil)
	d.addrRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, addr *domain.AllocatedAddress) error {
			assert.Equal(t, walletID, addr.WalletID)
			assert.Equal(t, escrowID, addr.EscrowID)
			assert.Equal(t, uint32(42), addr.Index)
			assert.Equal(t, "bc1qexample", addr.Address)
			return nil
		})

	alloc, err := d.svc.AllocateInTx(context.Background(), tx, walletID, escrowID)
	require.NoError(t, err)
	assert.Equal(t, "bc1qexample", alloc.Address)
	assert.Equal(t, uint32(42), alloc.Index)
}

func TestAddressAllocator_AllocateInTx_RetriesLostRace(t *testing.T) {
	d := setupAllocator(t)
	defer d.ctrl.Finish()

	walletID := uuid.New()
	escrowID := uuid.New()
	tx := &mockTx{}

	// First attempt reads index 7 and loses the CAS; second attempt reads the
	// bumped index 8 and wins.
	first := d.walletRepo.EXPECT().GetByIDInTx(gomock.Any(), tx, walletID).Return(activeWallet(walletID, 7), nil)
	d.walletRepo.EXPECT().GetByIDInTx(gomock.Any(), tx, walletID).Return(activeWallet(walletID, 8), nil).After(first)

	d.encSvc.EXPECT().Decrypt("encrypted-xpub").Return("xpub-plain", nil).Times(2)
	d.deriver.EXPECT().Derive("xpub-plain", uint32(7)).Return("bc1qlost", nil)
	d.deriver.EXPECT().Derive("xpub-plain", uint32(8)).Return("bc1qwon", nil)

	d.walletRepo.EXPECT().CompareAndBumpIndex(gomock.Any(), tx, walletID, uint32(7)).Return(false, nil)
	d.walletRepo.EXPECT().CompareAndBumpIndex(gomock.Any(), tx, walletID, uint32(8)).Return(true, nil)
	d.addrRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil)

	alloc, err := d.svc.AllocateInTx(context.Background(), tx, walletID, escrowID)
	require.NoError(t, err)
	assert.Equal(t, "bc1qwon", alloc.Address)
	assert.Equal(t, uint32(8), alloc.Index)
}

func TestAddressAllocator_AllocateInTx_ConflictExhausted(t *testing.T) {
	d := setupAllocator(t)
	defer d.ctrl.Finish()

	walletID := uuid.New()
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByIDInTx(gomock.Any(), tx, walletID).Return(activeWallet(walletID, 1), nil).Times(maxAllocationRetries)
	d.encSvc.EXPECT().Decrypt("encrypted-xpub").Return("xpub-plain", nil).Times(maxAllocationRetries)
	d.deriver.EXPECT().Derive("xpub-plain", uint32(1)).Return("bc1qaddr", nil).Times(maxAllocationRetries)
	d.walletRepo.EXPECT().CompareAndBumpIndex(gomock.Any(), tx, walletID, uint32(1)).Return(false, nil).Times(maxAllocationRetries)

	_, err := d.svc.AllocateInTx(context.Background(), tx, walletID, uuid.New())
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ALLOC_002", appErr.Code)
}

func TestAddressAllocator_AllocateInTx_InactiveWallet(t *testing.T) {
	d := setupAllocator(t)
	defer d.ctrl.Finish()

	walletID := uuid.New()
	tx := &mockTx{}
	wallet := activeWallet(walletID, 0)
	wallet.IsActive = false

	d.walletRepo.EXPECT().GetByIDInTx(gomock.Any(), tx, walletID).Return(wallet, nil)

	_, err := d.svc.AllocateInTx(context.Background(), tx, walletID, uuid.New())
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ALLOC_001", appErr.Code)
}

func TestAddressAllocator_AllocateInTx_WalletNotFound(t *testing.T) {
	d := setupAllocator(t)
	defer d.ctrl.Finish()

	walletID := uuid.New()
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByIDInTx(gomock.Any(), tx, walletID).Return(nil, nil)

	_, err := d.svc.AllocateInTx(context.Background(), tx, walletID, uuid.New())
	require.Error(t, err)
}

func TestAddressAllocator_AllocateInTx_DerivationErrorPropagates(t *testing.T) {
	d := setupAllocator(t)
	defer d.ctrl.Finish()

	walletID := uuid.New()
	tx := &mockTx{}

	d.walletRepo.EXPECT().GetByIDInTx(gomock.Any(), tx, walletID).Return(activeWallet(walletID, 0), nil)
	d.encSvc.EXPECT().Decrypt("encrypted-xpub").Return("xpub-plain", nil)
	d.deriver.EXPECT().Derive("xpub-plain", uint32(0)).Return("", apperror.ErrInvalidKeyMaterial(errors.New("bad key")))

	_, err := d.svc.AllocateInTx(context.Background(), tx, walletID, uuid.New())
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "KEY_001", appErr.Code)
}

func TestAddressAllocator_Allocate_CommitsOwnTransaction(t *testing.T) {
	d := setupAllocator(t)
	defer d.ctrl.Finish()

	walletID := uuid.New()
	escrowID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDInTx(gomock.Any(), tx, walletID).Return(activeWallet(walletID, 3), nil)
	d.encSvc.EXPECT().Decrypt("encrypted-xpub").Return("xpub-plain", nil)
	d.deriver.EXPECT().Derive("xpub-plain", uint32(3)).Return("bc1qfresh", nil)
	d.walletRepo.EXPECT().CompareAndBumpIndex(gomock.Any(), tx, walletID, uint32(3)).Return(true, nil)
	d.addrRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil)

	alloc, err := d.svc.Allocate(context.Background(), walletID, escrowID)
	require.NoError(t, err)
	assert.Equal(t, "bc1qfresh", alloc.Address)
}
