// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/storefront/internal/model"
)

// SessionCookieName はセッションエビデンスを保持するCookieの名前。
const SessionCookieName = "session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みIdentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// Verifier はセッションエビデンスを検証する。
// session.Authorityが実装する。無効なエビデンスではnilを返す。
type Verifier interface {
	Verify(ctx context.Context, evidence string) *model.Identity
}

// EvidenceFromRequest はリクエストからセッションエビデンスを取り出す。
// 明示的なAuthorization: Bearerを優先し、なければCookieを使う。
// 見つからない場合は空文字を返す。
func EvidenceFromRequest(r *http.Request) string {
	if all := EvidencesFromRequest(r); len(all) > 0 {
		return all[0]
	}
	return ""
}

// EvidencesFromRequest はリクエストに含まれるエビデンスをBearer、Cookieの順に重複なく返す。
func EvidencesFromRequest(r *http.Request) []string {
	var out []string
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			out = append(out, token)
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if len(out) == 0 || out[0] != cookie.Value {
			out = append(out, cookie.Value)
		}
	}
	return out
}

// NewSessionMiddleware はセッションエビデンスを検証するミドルウェアを返す。
// 認証済みIdentityをリクエストコンテキストに注入する。
// 未認証リクエストには401を統一エラーフォーマットで返す。
func NewSessionMiddleware(verifier Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			evidence := EvidenceFromRequest(r)
			if evidence == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			identity := verifier.Verify(r.Context(), evidence)
			if identity == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			markUser(r.Context(), identity.SubjectID)
			ctx := ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから認証済みIdentityを取得する。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	return identity, ok && identity != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.SubjectID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.SubjectID, nil
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
