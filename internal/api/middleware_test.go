package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"notiq/internal/auth"
	"notiq/internal/constants"
	"notiq/internal/models"
)

func requireAuthProbe(tokens *auth.TokenService) (http.Handler, *string) {
	var seenUserID string
	middleware := NewAuthMiddleware(tokens)
	handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = GetUserID(r)
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seenUserID
}

func TestRequireAuthAcceptsCookie(t *testing.T) {
	tokens := auth.NewTokenService(testAccessSecret, testRefreshSecret, 15*time.Minute, time.Hour)
	token, _, err := tokens.IssueAccessToken(&models.User{ID: "usr_test", Username: "jane"})
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	handler, seenUserID := requireAuthProbe(tokens)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.AddCookie(&http.Cookie{Name: constants.AccessTokenCookie, Value: token})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}
	if *seenUserID != "usr_test" {
		t.Fatalf("userID = %q, want %q", *seenUserID, "usr_test")
	}
}

func TestRequireAuthAcceptsBearerHeader(t *testing.T) {
	tokens := auth.NewTokenService(testAccessSecret, testRefreshSecret, 15*time.Minute, time.Hour)
	token, _, err := tokens.IssueAccessToken(&models.User{ID: "usr_test"})
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	handler, seenUserID := requireAuthProbe(tokens)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if *seenUserID != "usr_test" {
		t.Fatalf("userID = %q, want %q", *seenUserID, "usr_test")
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	tokens := auth.NewTokenService(testAccessSecret, testRefreshSecret, 15*time.Minute, time.Hour)

	handler, _ := requireAuthProbe(tokens)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if resp := decodeResponse(t, rr); resp.Message != "Unauthorized request" {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestRequireAuthRejectsBadToken(t *testing.T) {
	tokens := auth.NewTokenService(testAccessSecret, testRefreshSecret, 15*time.Minute, time.Hour)

	handler, _ := requireAuthProbe(tokens)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if resp := decodeResponse(t, rr); resp.Message != "Invalid or expired access token" {
		t.Fatalf("message = %q", resp.Message)
	}
}
