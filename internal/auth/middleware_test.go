package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims StaffClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", JWTMiddleware(testSecret, audience), RequireApproved(), func(c *gin.Context) {
		identity, _ := GetIdentity(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": identity.UserID, "role": identity.Role})
	})
	return router
}

func serve(router *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func validClaims(subject string) StaffClaims {
	return StaffClaims{
		Role:   "staff",
		Status: StatusApproved,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{"parking"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWTMiddlewareAcceptsApprovedStaff(t *testing.T) {
	resp := serve(newRouter("parking"), signToken(t, validClaims("user-1"), testSecret))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestJWTMiddlewareRejections(t *testing.T) {
	expired := validClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := validClaims("")
	pending := validClaims("user-1")
	pending.Status = "pending"

	cases := []struct {
		name     string
		token    string
		audience string
		want     int
	}{
		{name: "missing token", token: "", want: http.StatusUnauthorized},
		{name: "wrong secret", token: signToken(t, validClaims("user-1"), "other"), want: http.StatusUnauthorized},
		{name: "expired", token: signToken(t, expired, testSecret), want: http.StatusUnauthorized},
		{name: "no subject", token: signToken(t, noSubject, testSecret), want: http.StatusUnauthorized},
		{name: "wrong audience", token: signToken(t, validClaims("user-1"), testSecret), audience: "billing", want: http.StatusUnauthorized},
		{name: "not approved", token: signToken(t, pending, testSecret), want: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := serve(newRouter(tc.audience), tc.token)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatal("expected error for non-bearer scheme")
	}
	token, err := extractBearerToken("bearer  abc ")
	if err != nil || token != "abc" {
		t.Fatalf("expected abc, got %q (%v)", token, err)
	}
}
