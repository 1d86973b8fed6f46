package api_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/api"
	"github.com/paylane/dealflow/internal/api/middleware"
	"github.com/paylane/dealflow/internal/config"
	"github.com/paylane/dealflow/internal/observability"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "dealflow-test"
	testJWTAudience = "dealflow-api-test"
	testHMACKey     = "partner-test-key"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	observability.Init()
	os.Exit(m.Run())
}

// setupRoutes builds the full route tree without backing services. Only
// behavior that fails before a handler would touch them is exercised here;
// the service and repository suites cover the rest.
func setupRoutes() http.Handler {
	cfg := &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		PartnerHMACKey:     testHMACKey,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     time.Hour,
	}
	router := api.NewRouter(cfg, zap.NewNop(), nil, nil, nil, api.Services{})
	return router.Routes()
}

func generateToken(principalID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"principal_id": principalID,
		"role":         role,
		"iss":          testJWTIssuer,
		"aud":          testJWTAudience,
		"sub":          principalID,
		"iat":          now.Unix(),
		"nbf":          now.Add(-30 * time.Second).Unix(),
		"exp":          now.Add(time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte(testJWTSecret))
	return signed
}

func generateTokenWithClaims(claims jwt.MapClaims, secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte(secret))
	return signed
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLivenessEndpoint(t *testing.T) {
	router := setupRoutes()
	rec := doRequest(t, router, http.MethodGet, "/healthz/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRoutes()
	rec := doRequest(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenAPISpecServed(t *testing.T) {
	router := setupRoutes()
	rec := doRequest(t, router, http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi:")
}

func TestSwaggerUIServed(t *testing.T) {
	router := setupRoutes()
	rec := doRequest(t, router, http.MethodGet, "/swagger/index.html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	router := setupRoutes()
	id := uuid.NewString()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/deals"},
		{http.MethodGet, "/v1/deals/" + id},
		{http.MethodGet, "/v1/principals/" + id + "/stats"},
		{http.MethodPost, "/v1/disputes"},
		{http.MethodPost, "/v1/disputes/" + id + "/take"},
		{http.MethodPost, "/v1/disputes/" + id + "/resolve"},
		{http.MethodPut, "/v1/fee-configs"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := doRequest(t, router, rt.method, rt.path, "", nil)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	router := setupRoutes()
	principalID := uuid.NewString()
	now := time.Now()
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"principal_id": principalID,
			"role":         middleware.RoleMerchant,
			"iss":          testJWTIssuer,
			"aud":          testJWTAudience,
			"sub":          principalID,
			"iat":          now.Unix(),
			"exp":          now.Add(time.Hour).Unix(),
		}
	}

	cases := []struct {
		name  string
		token string
	}{
		{"expired", func() string {
			claims := base()
			claims["exp"] = now.Add(-time.Hour).Unix()
			return generateTokenWithClaims(claims, testJWTSecret)
		}()},
		{"wrong_issuer", func() string {
			claims := base()
			claims["iss"] = "someone-else"
			return generateTokenWithClaims(claims, testJWTSecret)
		}()},
		{"wrong_audience", func() string {
			claims := base()
			claims["aud"] = "other-api"
			return generateTokenWithClaims(claims, testJWTSecret)
		}()},
		{"wrong_secret", generateTokenWithClaims(base(), "not-the-real-secret-not-the-real")},
		{"subject_mismatch", func() string {
			claims := base()
			claims["sub"] = uuid.NewString()
			return generateTokenWithClaims(claims, testJWTSecret)
		}()},
		{"missing_principal", func() string {
			claims := base()
			delete(claims, "principal_id")
			delete(claims, "sub")
			return generateTokenWithClaims(claims, testJWTSecret)
		}()},
		{"garbage", "not.a.token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/v1/deals/"+uuid.NewString(), tc.token, nil)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	router := setupRoutes()
	req := httptest.NewRequest(http.MethodGet, "/v1/deals/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", generateToken(uuid.NewString(), middleware.RoleMerchant)) // no Bearer prefix
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleEnforcement(t *testing.T) {
	router := setupRoutes()
	traderToken := generateToken(uuid.NewString(), middleware.RoleTrader)
	merchantToken := generateToken(uuid.NewString(), middleware.RoleMerchant)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
	}{
		{"trader_cannot_create_deal", http.MethodPost, "/v1/deals", traderToken},
		{"merchant_cannot_take_dispute", http.MethodPost, "/v1/disputes/" + uuid.NewString() + "/take", merchantToken},
		{"merchant_cannot_resolve_dispute", http.MethodPost, "/v1/disputes/" + uuid.NewString() + "/resolve", merchantToken},
		{"trader_cannot_edit_fee_configs", http.MethodPut, "/v1/fee-configs", traderToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, tc.method, tc.path, tc.token, []byte(`{}`))
			require.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestStatsSelfOrAdminOnly(t *testing.T) {
	router := setupRoutes()
	traderToken := generateToken(uuid.NewString(), middleware.RoleTrader)

	rec := doRequest(t, router, http.MethodGet, "/v1/principals/"+uuid.NewString()+"/stats", traderToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatsRejectsBadPrincipalID(t *testing.T) {
	router := setupRoutes()
	token := generateToken(uuid.NewString(), middleware.RoleTrader)

	rec := doRequest(t, router, http.MethodGet, "/v1/principals/not-a-uuid/stats", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPartnerCallbackRejectsBadSignature(t *testing.T) {
	router := setupRoutes()
	body := []byte(`{"id":"AGG-1","status":"paid"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/callbacks/partner", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPartnerCallbackRejectsMissingSignature(t *testing.T) {
	router := setupRoutes()
	rec := doRequest(t, router, http.MethodPost, "/v1/callbacks/partner", "", []byte(`{"id":"AGG-1","status":"paid"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	router := setupRoutes()
	rec := doRequest(t, router, http.MethodGet, "/v1/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
