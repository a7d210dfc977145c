// Package auth はログイン資格情報の検証とセッション発行までのサインイン処理を提供する。
//
// パスワード認証と外部IdP（github, google, kakao, naver）のトークン認証を
// 同じResolverで扱い、どちらも成功時はIdentityを返す。
package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/storefront/internal/model"
)

// CredentialKind は資格情報の種別。
type CredentialKind string

const (
	KindPassword  CredentialKind = "password"
	KindDelegated CredentialKind = "delegated"
)

// Provider は外部IdPの識別子。
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGoogle Provider = "google"
	ProviderKakao  Provider = "kakao"
	ProviderNaver  Provider = "naver"
)

// providerPassword はパスワード認証で発行したIdentityのプロバイダー名。
const providerPassword = "password"

// KnownProviders はサポートする外部IdPの一覧。
var KnownProviders = []Provider{ProviderGitHub, ProviderGoogle, ProviderKakao, ProviderNaver}

// ParseProvider は文字列をProviderに変換する。未知の値はfalseを返す。
func ParseProvider(s string) (Provider, bool) {
	for _, p := range KnownProviders {
		if string(p) == strings.ToLower(s) {
			return p, true
		}
	}
	return "", false
}

const (
	minPasswordLength = 3
	maxPasswordLength = 72 // bcryptが扱える最大バイト数
	maxEmailLength    = 255
)

var emailPattern = regexp.MustCompile(`(?i)^[a-z0-9_.+-]+@[a-z0-9-]+\.[a-z0-9-.]+$`)

// Credential はログイン時に提示される資格情報。
// Kindに応じてEmail/Secret、またはProvider/Tokenのいずれかを使う。
type Credential struct {
	Kind     CredentialKind
	Email    string
	Secret   string
	Provider Provider
	Token    string
}

// PasswordCredential はメールアドレスとパスワードの資格情報を生成する。
func PasswordCredential(email, secret string) Credential {
	return Credential{Kind: KindPassword, Email: strings.TrimSpace(email), Secret: secret}
}

// DelegatedCredential は外部IdPが発行したトークンの資格情報を生成する。
func DelegatedCredential(provider Provider, token string) Credential {
	return Credential{Kind: KindDelegated, Provider: provider, Token: token}
}

// ProviderLabel はメトリクスとログに使うプロバイダー名を返す。
func (c Credential) ProviderLabel() string {
	if c.Kind == KindPassword {
		return providerPassword
	}
	if _, ok := ParseProvider(string(c.Provider)); ok {
		return string(c.Provider)
	}
	return "unknown"
}

// Validate は資格情報の形式を検証する。
// 値の正しさ（パスワード一致やトークンの有効性）はResolverが判定する。
func (c Credential) Validate() error {
	switch c.Kind {
	case KindPassword:
		if c.Email == "" {
			return model.NewValidationError("メールアドレスを入力してください")
		}
		if len(c.Email) > maxEmailLength || !emailPattern.MatchString(c.Email) {
			return model.NewValidationError("メールアドレスの形式が正しくありません")
		}
		if utf8.RuneCountInString(c.Secret) < minPasswordLength {
			return model.NewValidationError("パスワードは3文字以上で入力してください")
		}
		if len(c.Secret) > maxPasswordLength {
			return model.NewValidationError("パスワードが長すぎます")
		}
		return nil
	case KindDelegated:
		if c.Provider == "" {
			return model.NewValidationError("プロバイダーを指定してください")
		}
		if c.Token == "" {
			return model.NewValidationError("トークンを指定してください")
		}
		return nil
	default:
		return model.NewValidationError("未対応の認証方式です")
	}
}
