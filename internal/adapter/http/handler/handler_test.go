package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"crypto-escrow-gateway/config"
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type routerMocks struct {
	escrowSvc    *mocks.MockEscrowService
	walletSvc    *mocks.MockWalletService
	reportingSvc *mocks.MockReportingService
	sigSvc       *mocks.MockSignatureService
	nonceStore   *mocks.MockNonceStore
	tokenSvc     *mocks.MockTokenService
}

func setupTestRouter(t *testing.T) (*gin.Engine, routerMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)

	m := routerMocks{
		escrowSvc:    mocks.NewMockEscrowService(ctrl),
		walletSvc:    mocks.NewMockWalletService(ctrl),
		reportingSvc: mocks.NewMockReportingService(ctrl),
		sigSvc:       mocks.NewMockSignatureService(ctrl),
		nonceStore:   mocks.NewMockNonceStore(ctrl),
		tokenSvc:     mocks.NewMockTokenService(ctrl),
	}

	r := SetupRouter(RouterDeps{
		EscrowSvc:    m.escrowSvc,
		WalletSvc:    m.walletSvc,
		ReportingSvc: m.reportingSvc,
		SigSvc:       m.sigSvc,
		NonceStore:   m.nonceStore,
		TokenSvc:     m.tokenSvc,
		Storefront: config.StorefrontConfig{
			AccessKey: "sf-access-key",
			SecretKey: "sf-secret-key",
		},
		WebhookSecret: "webhook-secret",
		Logger:        zerolog.Nop(),
	})
	return r, m
}

func hmacHeaders(req *http.Request, nonce string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Key", "sf-access-key")
	req.Header.Set("X-Signature", "valid-signature")
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Nonce", nonce)
}

func expectHMACOK(m routerMocks) {
	m.nonceStore.EXPECT().
		CheckAndSet(gomock.Any(), "storefront", gomock.Any(), gomock.Any()).
		Return(true, nil)
	m.sigSvc.EXPECT().
		BuildCanonicalString("POST", "/api/v1/escrows", gomock.Any(), gomock.Any(), gomock.Any()).
		Return("canonical")
	m.sigSvc.EXPECT().
		Verify("sf-secret-key", "canonical", "valid-signature").
		Return(true)
}

func bearerToken(m routerMocks, actor domain.Actor) string {
	m.tokenSvc.EXPECT().Validate("test-token").Return(&ports.TokenClaims{
		Subject: actor.ID,
		Role:    actor.Role,
	}, nil)
	return "Bearer test-token"
}

func sampleEscrow() *domain.Escrow {
	now := time.Now().UTC()
	return &domain.Escrow{
		ID:          uuid.New(),
		OrderID:     "ord-001",
		BuyerID:     uuid.New(),
		SellerRef:   uuid.New().String(),
		GrossAmount: 5_000_000,
		Currency:    "BTC",
		FeeRateBps:  150,
		FeeAmount:   75_000,
		NetAmount:   4_925_000,
		WalletID:    uuid.New(),
		Address:     "bc1qescrowaddr",
		Status:      domain.StatusAwaitingPayment,
		ExpiresAt:   now.Add(24 * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestHealthCheck_NoCheckers(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestCreateEscrow_Success(t *testing.T) {
	r, m := setupTestRouter(t)
	escrow := sampleEscrow()

	expectHMACOK(m)
	m.escrowSvc.EXPECT().
		CreateEscrow(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, req ports.CreateEscrowRequest) (*domain.Escrow, error) {
			assert.Equal(t, "ord-001", req.OrderID)
			assert.Equal(t, int64(5_000_000), req.GrossAmount)
			return escrow, nil
		})

	body, _ := json.Marshal(map[string]any{
		"order_id":     "ord-001",
		"buyer_id":     escrow.BuyerID.String(),
		"seller_ref":   escrow.SellerRef,
		"gross_amount": 5_000_000,
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/escrows", bytes.NewReader(body))
	hmacHeaders(req, "nonce-1")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "bc1qescrowaddr")
	assert.Contains(t, w.Body.String(), "AWAITING_PAYMENT")
}

func TestCreateEscrow_MissingAuthHeaders(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/escrows", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_001")
}

func TestCreateEscrow_ReplayedNonce(t *testing.T) {
	r, m := setupTestRouter(t)

	m.nonceStore.EXPECT().
		CheckAndSet(gomock.Any(), "storefront", "nonce-used", gomock.Any()).
		Return(false, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/escrows", bytes.NewReader([]byte(`{}`)))
	hmacHeaders(req, "nonce-used")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_004")
}

func TestCreateEscrow_ValidationError(t *testing.T) {
	r, m := setupTestRouter(t)

	expectHMACOK(m)

	// Missing gross_amount and buyer_id
	body := []byte(`{"order_id":"ord-002"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/escrows", bytes.NewReader(body))
	hmacHeaders(req, "nonce-2")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEscrow_Success(t *testing.T) {
	r, m := setupTestRouter(t)
	escrow := sampleEscrow()
	actor := domain.Actor{ID: escrow.BuyerID, Role: domain.RoleBuyer}

	token := bearerToken(m, actor)
	m.escrowSvc.EXPECT().GetEscrow(gomock.Any(), escrow.ID).Return(escrow, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/escrows/"+escrow.ID.String(), nil)
	req.Header.Set("Authorization", token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), escrow.OrderID)
}

func TestGetEscrow_InvalidToken(t *testing.T) {
	r, m := setupTestRouter(t)

	m.tokenSvc.EXPECT().Validate("bad-token").Return(nil, fmt.Errorf("token expired"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/escrows/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_001")
}

func TestReleaseEscrow_Success(t *testing.T) {
	r, m := setupTestRouter(t)
	escrow := sampleEscrow()
	escrow.Status = domain.StatusReleased
	actor := domain.Actor{ID: escrow.BuyerID, Role: domain.RoleBuyer}

	token := bearerToken(m, actor)
	m.escrowSvc.EXPECT().
		ReleaseToSeller(gomock.Any(), escrow.ID, actor).
		Return(escrow, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/escrows/"+escrow.ID.String()+"/release", nil)
	req.Header.Set("Authorization", token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "RELEASED")
}

func TestDisputeEscrow_Success(t *testing.T) {
	r, m := setupTestRouter(t)
	escrow := sampleEscrow()
	escrow.Status = domain.StatusDisputed
	actor := domain.Actor{ID: escrow.BuyerID, Role: domain.RoleBuyer}

	token := bearerToken(m, actor)
	m.escrowSvc.EXPECT().
		RaiseDispute(gomock.Any(), escrow.ID, actor, "item never shipped").
		Return(escrow, nil)

	body := []byte(`{"reason":"item never shipped"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/escrows/"+escrow.ID.String()+"/dispute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "DISPUTED")
}

func TestResolveEscrow_NonAdminForbidden(t *testing.T) {
	r, m := setupTestRouter(t)
	actor := domain.Actor{ID: uuid.New(), Role: domain.RoleBuyer}

	token := bearerToken(m, actor)

	body := []byte(`{"outcome":"REFUNDED","notes":"buyer wins"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/escrows/"+uuid.NewString()+"/resolve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_002")
}

func TestChainEvent_Accepted(t *testing.T) {
	r, m := setupTestRouter(t)

	body := []byte(`{"address":"bc1qescrowaddr","txid":"deadbeef","amount_observed":5000000,"confirmations":3}`)
	m.sigSvc.EXPECT().Verify("webhook-secret", string(body), "hook-sig").Return(true)
	m.escrowSvc.EXPECT().
		OnConfirmation(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, event domain.ConfirmationEvent) error {
			assert.Equal(t, "bc1qescrowaddr", event.Address)
			assert.Equal(t, int32(3), event.Confirmations)
			return nil
		})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/chain/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "hook-sig")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "accepted")
}

func TestChainEvent_BadSignature(t *testing.T) {
	r, m := setupTestRouter(t)

	body := []byte(`{"address":"bc1qescrowaddr","txid":"deadbeef","amount_observed":5000000}`)
	m.sigSvc.EXPECT().Verify("webhook-secret", string(body), "wrong").Return(false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/chain/events", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "wrong")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_002")
}

func TestImportWallet_AdminOnly(t *testing.T) {
	r, m := setupTestRouter(t)
	actor := domain.Actor{ID: uuid.New(), Role: domain.RoleSeller}

	token := bearerToken(m, actor)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/wallets", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDashboardStats_Success(t *testing.T) {
	r, m := setupTestRouter(t)
	actor := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	token := bearerToken(m, actor)
	m.reportingSvc.EXPECT().GetDashboardStats(gomock.Any()).Return(&ports.EscrowStats{
		TotalEscrows: 42,
		HeldCount:    7,
		GrossHeld:    100_000_000,
	}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/dashboard/stats", nil)
	req.Header.Set("Authorization", token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total_escrows":42`)
}

func TestListEscrows_StatusFilter(t *testing.T) {
	r, m := setupTestRouter(t)
	escrow := sampleEscrow()
	escrow.Status = domain.StatusHeld
	actor := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	token := bearerToken(m, actor)
	m.reportingSvc.EXPECT().
		ListEscrows(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, params ports.EscrowListParams) ([]domain.Escrow, int64, error) {
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.StatusHeld, *params.Status)
			return []domain.Escrow{*escrow}, 1, nil
		})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/escrows?status=HELD", nil)
	req.Header.Set("Authorization", token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total":1`)
}
