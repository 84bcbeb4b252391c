package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func newAuthTestServer(secret string) *echo.Echo {
	e := echo.New()
	g := e.Group("/gateway", CallbackAuth(secret))
	g.POST("/ping", func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	})
	return e
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "gateway"})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestCallbackAuth_ValidToken(t *testing.T) {
	e := newAuthTestServer("cb-secret")
	req := httptest.NewRequest(http.MethodPost, "/gateway/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "cb-secret"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
}

func TestCallbackAuth_RejectsWrongSecret(t *testing.T) {
	e := newAuthTestServer("cb-secret")
	req := httptest.NewRequest(http.MethodPost, "/gateway/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestCallbackAuth_RejectsMissingHeader(t *testing.T) {
	e := newAuthTestServer("cb-secret")
	req := httptest.NewRequest(http.MethodPost, "/gateway/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestCallbackAuth_EmptySecretDisablesCheck(t *testing.T) {
	e := newAuthTestServer("")
	req := httptest.NewRequest(http.MethodPost, "/gateway/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
}
