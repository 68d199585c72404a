package middleware

import (
	"bytes"
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
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testStorefront = config.StorefrontConfig{
	AccessKey: "sf-key",
	SecretKey: "sf-secret",
}

func hmacRouter(sigSvc ports.SignatureService, nonceStore ports.NonceStore) *gin.Engine {
	r := gin.New()
	r.POST("/protected", HMACAuth(testStorefront, sigSvc, nonceStore, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func signedRequest(nonce string, ts int64) *http.Request {
	req := httptest.NewRequest("POST", "/protected", bytes.NewReader([]byte(`{"k":"v"}`)))
	req.Header.Set("X-Access-Key", "sf-key")
	req.Header.Set("X-Signature", "sig")
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Nonce", nonce)
	return req
}

func TestHMACAuth_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	nonceStore := mocks.NewMockNonceStore(ctrl)

	nonceStore.EXPECT().CheckAndSet(gomock.Any(), "storefront", "n1", gomock.Any()).Return(true, nil)
	sigSvc.EXPECT().BuildCanonicalString("POST", "/protected", gomock.Any(), "n1", `{"k":"v"}`).Return("canonical")
	sigSvc.EXPECT().Verify("sf-secret", "canonical", "sig").Return(true)

	w := httptest.NewRecorder()
	hmacRouter(sigSvc, nonceStore).ServeHTTP(w, signedRequest("n1", time.Now().Unix()))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHMACAuth_MissingHeaders(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	nonceStore := mocks.NewMockNonceStore(ctrl)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/protected", nil)
	hmacRouter(sigSvc, nonceStore).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHMACAuth_StaleTimestamp(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	nonceStore := mocks.NewMockNonceStore(ctrl)

	w := httptest.NewRecorder()
	stale := time.Now().Add(-5 * time.Minute).Unix()
	hmacRouter(sigSvc, nonceStore).ServeHTTP(w, signedRequest("n2", stale))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_003")
}

func TestHMACAuth_WrongAccessKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	nonceStore := mocks.NewMockNonceStore(ctrl)

	w := httptest.NewRecorder()
	req := signedRequest("n3", time.Now().Unix())
	req.Header.Set("X-Access-Key", "someone-else")
	hmacRouter(sigSvc, nonceStore).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_001")
}

func TestHMACAuth_BadSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	nonceStore := mocks.NewMockNonceStore(ctrl)

	nonceStore.EXPECT().CheckAndSet(gomock.Any(), "storefront", "n4", gomock.Any()).Return(true, nil)
	sigSvc.EXPECT().BuildCanonicalString(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("canonical")
	sigSvc.EXPECT().Verify("sf-secret", "canonical", "sig").Return(false)

	w := httptest.NewRecorder()
	hmacRouter(sigSvc, nonceStore).ServeHTTP(w, signedRequest("n4", time.Now().Unix()))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_002")
}

func TestJWTAuth_SetsActor(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	subject := uuid.New()

	tokenSvc.EXPECT().Validate("good-token").Return(&ports.TokenClaims{
		Subject: subject,
		Role:    domain.RoleSeller,
	}, nil)

	r := gin.New()
	r.GET("/me", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		assert.True(t, ok)
		assert.Equal(t, subject, actor.ID)
		assert.Equal(t, domain.RoleSeller, actor.Role)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuth_MissingBearer(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)

	r := gin.New()
	r.GET("/me", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole_AllowsMatchingRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) {
		c.Set(CtxActorID, uuid.New())
		c.Set(CtxActorRole, domain.RoleAdmin)
	}, RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/admin", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRole_RejectsOtherRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) {
		c.Set(CtxActorID, uuid.New())
		c.Set(CtxActorRole, domain.RoleBuyer)
	}, RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookAuth_ValidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)

	body := `{"address":"bc1q","txid":"aa"}`
	sigSvc.EXPECT().Verify("hook-secret", body, "hook-sig").Return(true)

	r := gin.New()
	r.POST("/events", WebhookAuth("hook-secret", sigSvc, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/events", bytes.NewReader([]byte(body)))
	req.Header.Set("X-Webhook-Signature", "hook-sig")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookAuth_MissingSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)

	r := gin.New()
	r.POST("/events", WebhookAuth("hook-secret", sigSvc, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/events", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMaxBodySize_RejectsOversized(t *testing.T) {
	r := gin.New()
	r.Use(MaxBodySize(16))
	r.POST("/small", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	big := bytes.Repeat([]byte("a"), 64)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/small", bytes.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
