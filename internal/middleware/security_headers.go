package middleware

import "net/http"

// hstsMaxAge はStrict-Transport-Securityの有効期間（1年）。
const hstsMaxAge = "max-age=31536000; includeSubDomains"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// 注文や会員情報を返すため、レスポンスは共有キャッシュに保存させない。
// strictTransportがtrueの場合（HTTPSで公開している場合）はHSTSも付与する。
func NewSecurityHeadersMiddleware(strictTransport bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// JSON APIのみを返すため、ブラウザに何も読み込ませない
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
			if strictTransport {
				h.Set("Strict-Transport-Security", hstsMaxAge)
			}
			next.ServeHTTP(w, r)
		})
	}
}
