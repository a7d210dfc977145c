// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storefront/internal/auth"
	"github.com/hitoshi/storefront/internal/middleware"
	"github.com/hitoshi/storefront/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, cred auth.Credential) (*auth.SignInResult, error)
	Register(ctx context.Context, email, password, name string) (*auth.SignInResult, error)
	LoginURL(provider auth.Provider, state string) (string, error)
	CompleteOAuth(ctx context.Context, provider auth.Provider, code string) (*auth.SignInResult, error)
	Logout(ctx context.Context, evidence string) error
	CurrentUser(ctx context.Context, identity *model.Identity) (*auth.CurrentUser, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はサインイン、会員登録、OAuthフロー、ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		now:     time.Now,
	}
}

type signInRequest struct {
	Kind     string `json:"kind"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type identityResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

type signInResponse struct {
	User      identityResponse `json:"user"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
}

type meResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Provider  string   `json:"provider"`
	Providers []string `json:"providers"`
}

// SignIn は資格情報でサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var cred auth.Credential
	switch auth.CredentialKind(req.Kind) {
	case auth.KindPassword, "":
		cred = auth.PasswordCredential(req.Email, req.Password)
	case auth.KindDelegated:
		cred = auth.DelegatedCredential(auth.Provider(req.Provider), req.Token)
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("kindはpasswordまたはdelegatedを指定してください"))
		return
	}

	result, err := h.service.SignIn(r.Context(), cred)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusOK, newSignInResponse(result))
}

// Register はメールアドレスとパスワードで会員登録し、サインイン状態にする。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusCreated, newSignInResponse(result))
}

// Login は指定IdPのOAuthフローを開始する。
// GET /auth/{provider}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider, ok := auth.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewValidationError("未対応のプロバイダーです"))
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.service.LoginURL(provider, state)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewValidationError("未対応のプロバイダーです"))
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    string(provider) + ":" + state,
		Path:     "/auth/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := auth.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewValidationError("未対応のプロバイダーです"))
		return
	}

	// 1. stateの検証（CSRF対策）。別IdP向けに発行したstateは受け付けない
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if state == "" || err != nil || stateCookie.Value != string(provider)+":"+state {
		slog.Warn("oauth state mismatch", slog.String("provider", string(provider)))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidOAuthStateError())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// IdP側でユーザーが同意を拒否した場合
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		slog.Info("oauth authorization denied",
			slog.String("provider", string(provider)),
			slog.String("error", errCode),
		)
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
		return
	}

	// 2. 認可コードの交換とサインイン
	result, err := h.service.CompleteOAuth(r.Context(), provider, r.URL.Query().Get("code"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 3. セッションCookieを設定してフロントエンドにリダイレクト
	h.setSessionCookie(w, result.Session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout は提示されたセッションを失効させる。
// BearerとCookieの両方が付いていればどちらも失効させる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	for _, evidence := range middleware.EvidencesFromRequest(r) {
		if err := h.service.Logout(r.Context(), evidence); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// 失効に失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me（セッションミドルウェアの内側で使う）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	current, err := h.service.CurrentUser(r.Context(), identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:        current.User.ID,
		Name:      current.User.Name,
		Email:     current.User.Email,
		Provider:  identity.Provider,
		Providers: current.Providers,
	})
}

func newSignInResponse(result *auth.SignInResult) signInResponse {
	return signInResponse{
		User: identityResponse{
			ID:       result.Identity.SubjectID,
			Name:     result.Identity.DisplayName,
			Email:    result.Identity.Email,
			Provider: result.Identity.Provider,
		},
		Token:     result.Session.Token,
		ExpiresAt: result.Session.ExpiresAt,
	}
}

// setSessionCookie はセッションエビデンスをHTTP Only Cookieに設定する。
// Cookieの有効期間はセッションの有効期限に合わせる。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sess *model.Session) {
	maxAge := int(sess.ExpiresAt.Sub(h.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
