package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ParseTrustedProxies はCIDR表記（単一IPも可）の一覧を解析する。
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv4len
			if ip.To4() == nil {
				bits = 8 * net.IPv6len
			}
			entry = fmt.Sprintf("%s/%d", entry, bits)
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// NewTrustedProxyMiddleware は信頼済みプロキシ経由のリクエストに限り、
// X-Forwarded-ForからクライアントIPを復元してRemoteAddrを書き換える。
//
// ソケットの接続元が信頼済みでない場合、転送ヘッダーは一切参照しない。
// X-Forwarded-Forは右端から辿り、信頼済みでない最初のアドレスを採用する。
func NewTrustedProxyMiddleware(trusted []*net.IPNet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isTrusted(trusted, ClientIP(r)) {
				next.ServeHTTP(w, r)
				return
			}
			if ip := forwardedClientIP(trusted, r.Header); ip != "" {
				r2 := r.Clone(r.Context())
				r2.RemoteAddr = ip
				r = r2
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClientIP は転送ヘッダーから信頼境界の外側にある最も近いアドレスを返す。
func forwardedClientIP(trusted []*net.IPNet, h http.Header) string {
	var hops []string
	for _, v := range h.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	if len(hops) == 0 {
		if ip := net.ParseIP(strings.TrimSpace(h.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
		return ""
	}

	var last string
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(hops[i])
		if ip == nil {
			// 壊れたエントリより左はクライアントが自由に書ける
			break
		}
		last = ip.String()
		if !isTrusted(trusted, last) {
			return last
		}
	}
	return last
}

func isTrusted(trusted []*net.IPNet, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
