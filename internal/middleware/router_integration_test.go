package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/model"
)

// newIntegrationRouter は本番と同じ順序でCSRF → Sessionを重ねたchi.Routerを返す。
func newIntegrationRouter(verifier Verifier) http.Handler {
	r := chi.NewRouter()
	r.Use(NewCSRFMiddleware(CSRFConfig{}))
	r.Get("/api/csrf-token", NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(verifier))
		whoami := func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		}
		r.Get("/api/me", whoami)
		r.Delete("/api/me", whoami)
	})
	return r
}

func TestRouterIntegration_SessionAndCSRF(t *testing.T) {
	verifier := &mockVerifier{identities: map[string]*model.Identity{
		"browser-session": {SubjectID: "user-browser"},
		"api-token":       {SubjectID: "user-api"},
	}}
	router := newIntegrationRouter(verifier)

	tests := []struct {
		name       string
		method     string
		cookie     string
		bearer     string
		csrf       string
		wantStatus int
		wantUser   string
	}{
		{"Cookieセッションで参照", http.MethodGet, "browser-session", "", "", http.StatusOK, "user-browser"},
		{"Bearerで参照", http.MethodGet, "", "api-token", "", http.StatusOK, "user-api"},
		{"古いCookieより明示的なBearerを採用", http.MethodGet, "revoked-session", "api-token", "", http.StatusOK, "user-api"},
		{"エビデンスなし", http.MethodGet, "", "", "", http.StatusUnauthorized, ""},
		{"偽造トークン", http.MethodGet, "", "forged", "", http.StatusUnauthorized, ""},
		{"Cookieセッションの更新系はCSRF必須", http.MethodDelete, "browser-session", "", "", http.StatusForbidden, ""},
		{"Cookieセッション+CSRFトークン", http.MethodDelete, "browser-session", "", "csrf-1", http.StatusOK, "user-browser"},
		// Cookieを使わないクライアントはCSRFの対象外
		{"Bearerの更新系はCSRF不要", http.MethodDelete, "", "api-token", "", http.StatusOK, "user-api"},
		{"エビデンスなしの更新系", http.MethodDelete, "", "", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			if tt.csrf != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.csrf})
				req.Header.Set(csrfHeaderName, tt.csrf)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantUser == "" {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body["user_id"] != tt.wantUser {
				t.Errorf("user_id = %q, want %q", body["user_id"], tt.wantUser)
			}
		})
	}
}

func TestRouterIntegration_CSRFTokenIssuedOnSafeRequest(t *testing.T) {
	router := newIntegrationRouter(&mockVerifier{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token")
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != body.Token {
		t.Errorf("csrf cookie = %+v, want value %q", cookie, body.Token)
	}
}
