package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"crypto-escrow-gateway/config"
	"crypto-escrow-gateway/internal/adapter/http/handler"
	pkgredis "crypto-escrow-gateway/internal/adapter/storage/redis"
	"crypto-escrow-gateway/internal/core/domain"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// The full stack minus postgres and the real chain provider: real gin router,
// real middleware, real crypto (HMAC, JWT, AES, BIP32 derivation), in-memory
// repositories and miniredis. Exercises the same wiring as cmd/api.

const (
	testXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

	testAESKey        = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testJWTSecret     = "integration-jwt-secret"
	testJWTIssuer     = "storefront-auth"
	testAccessKey     = "sf-access-key"
	testSecretKey     = "sf-secret-key"
	testWebhookSecret = "chain-webhook-secret"
)

type testApp struct {
	server *httptest.Server
	sigSvc ports.SignatureService

	escrowSvc  ports.EscrowService
	walletSvc  ports.WalletService
	escrowRepo *inMemoryEscrowRepo
	walletRepo *inMemoryWalletRepo
	auditRepo  *inMemoryAuditRepo

	wallet *domain.Wallet
	cfg    config.EscrowConfig
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := zerolog.Nop()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	walletRepo := newInMemoryWalletRepo()
	addrRepo := newInMemoryAddressRepo()
	escrowRepo := newInMemoryEscrowRepo()
	confirmRepo := newInMemoryConfirmationRepo()
	notifRepo := newInMemoryNotificationRepo()
	auditRepo := newInMemoryAuditRepo()
	transactor := inMemoryTransactor{}

	encSvc, err := service.NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	deriver, err := service.NewHDKeyDerivationService("mainnet")
	require.NoError(t, err)
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(testJWTSecret, testJWTIssuer)

	escrowCfg := config.EscrowConfig{
		Currency:         "BTC",
		FeeRateBps:       150,
		PaymentWindow:    30 * time.Minute,
		HoldPeriod:       72 * time.Hour,
		SweepInterval:    time.Minute,
		LateFundingGrace: 24 * time.Hour,
		ConfirmationTiers: []config.ConfirmationTier{
			{MaxAmount: 1_000_000, Confirmations: 1},
			{MaxAmount: 0, Confirmations: 3},
		},
	}
	storefrontCfg := config.StorefrontConfig{
		AccessKey: testAccessKey,
		SecretKey: testSecretKey,
		// No callback URL: transitions are not pushed anywhere in tests.
	}

	auditSvc := service.NewAuditService(auditRepo, log)
	notifier := service.NewStorefrontNotifier(notifRepo, sigSvc,
		&http.Client{Timeout: time.Second}, storefrontCfg, log)
	allocator := service.NewAddressAllocator(walletRepo, addrRepo, deriver, encSvc, transactor, log)
	escrowSvc := service.NewEscrowService(
		escrowRepo, walletRepo, confirmRepo,
		allocator, service.NewFixedRateFeeService(escrowCfg.FeeRateBps),
		pkgredis.NewEventCache(rdb), service.NewRoleAuthorizer(),
		notifier, auditSvc, transactor, escrowCfg, log,
	)
	walletSvc := service.NewWalletService(walletRepo, deriver, encSvc, transactor, log)
	reportingSvc := service.NewReportingService(escrowRepo, log)

	router := handler.SetupRouter(handler.RouterDeps{
		EscrowSvc:     escrowSvc,
		WalletSvc:     walletSvc,
		ReportingSvc:  reportingSvc,
		SigSvc:        sigSvc,
		NonceStore:    pkgredis.NewNonceStore(rdb),
		TokenSvc:      tokenSvc,
		Storefront:    storefrontCfg,
		WebhookSecret: testWebhookSecret,
		AuditSvc:      auditSvc,
		Logger:        log,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wallet, err := walletSvc.ImportWallet(t.Context(), ports.ImportWalletRequest{
		XPub:                 testXPub,
		Currency:             "BTC",
		DerivationPathPrefix: "m/84'/0'/0'",
		MakePrimary:          true,
	})
	require.NoError(t, err)

	return &testApp{
		server:     server,
		sigSvc:     sigSvc,
		escrowSvc:  escrowSvc,
		walletSvc:  walletSvc,
		escrowRepo: escrowRepo,
		walletRepo: walletRepo,
		auditRepo:  auditRepo,
		wallet:     wallet,
		cfg:        escrowCfg,
	}
}

// storefrontPost sends an HMAC-signed storefront request the way the real
// storefront backend would: canonical string over method, path, timestamp,
// nonce and body, signed with the shared secret.
func (a *testApp) storefrontPost(t *testing.T, path string, body any, nonce string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	ts := time.Now().Unix()
	canonical := a.sigSvc.BuildCanonicalString(http.MethodPost, path, ts, nonce, string(payload))

	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Key", testAccessKey)
	req.Header.Set("X-Signature", a.sigSvc.Sign(testSecretKey, canonical))
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Nonce", nonce)

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// chainEvent pushes a signed provider callback to the webhook endpoint.
func (a *testApp) chainEvent(t *testing.T, address, txid string, amount int64, confirmations int32) *http.Response {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"address":         address,
		"txid":            txid,
		"amount_observed": amount,
		"confirmations":   confirmations,
		"observed_at":     time.Now().Unix(),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/api/v1/chain/events", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", a.sigSvc.Sign(testWebhookSecret, string(payload)))

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// jwtFor mints a token the way the external auth provider would.
func (a *testApp) jwtFor(t *testing.T, actor domain.Actor) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  actor.ID.String(),
		"role": string(actor.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
		"iss":  testJWTIssuer,
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

// authedDo sends a JWT-authenticated request and returns the response.
func (a *testApp) authedDo(t *testing.T, method, path string, body any, actor domain.Actor) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", a.jwtFor(t, actor))

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// decodeData unmarshals the success envelope's data field into out.
func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func buyerActor() domain.Actor  { return domain.Actor{ID: uuid.New(), Role: domain.RoleBuyer} }
func sellerActor() domain.Actor { return domain.Actor{ID: uuid.New(), Role: domain.RoleSeller} }
func adminActor() domain.Actor  { return domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin} }
