package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ErrTokenRejected はIdPがトークンまたは認可コードを拒否したことを表す。
// ネットワーク障害やIdPの5xx応答はこのエラーにならない。
var ErrTokenRejected = errors.New("token rejected by identity provider")

// maxUserInfoSize はユーザー情報レスポンスの読み取り上限。
const maxUserInfoSize = 1 << 20

// ProviderProfile はIdPから取得したユーザー情報。
type ProviderProfile struct {
	ProviderUserID string
	DisplayName    string
	Email          string
}

// ProviderVerifier はIdPのアクセストークンを検証し、ユーザー情報を返す。
type ProviderVerifier interface {
	VerifyToken(ctx context.Context, token string) (*ProviderProfile, error)
}

// CodeExchanger はブラウザ向けの認可コードフローを提供する。
type CodeExchanger interface {
	// AuthCodeURL はstateを含む認可URLを返す。
	AuthCodeURL(state string) string
	// Exchange は認可コードをアクセストークンに交換する。
	Exchange(ctx context.Context, code string) (string, error)
}

// profileMapper はユーザー情報レスポンスをProviderProfileに変換する。
type profileMapper func(body []byte) (*ProviderProfile, error)

// ProviderSettings はIdPごとのクライアント設定。
// Endpoint、UserInfoURLはテストや互換IdP向けに上書きできる。
type ProviderSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// OAuthProvider はOAuth 2.0に対応したIdP。
type OAuthProvider struct {
	name        Provider
	config      oauth2.Config
	userInfoURL string
	mapProfile  profileMapper
	client      *http.Client
}

var naverEndpoint = oauth2.Endpoint{
	AuthURL:   "https://nid.naver.com/oauth2.0/authorize",
	TokenURL:  "https://nid.naver.com/oauth2.0/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

type providerDefaults struct {
	endpoint    oauth2.Endpoint
	userInfoURL string
	scopes      []string
	mapper      profileMapper
}

var defaults = map[Provider]providerDefaults{
	ProviderGitHub: {
		endpoint:    endpoints.GitHub,
		userInfoURL: "https://api.github.com/user",
		scopes:      []string{"read:user", "user:email"},
		mapper:      mapGitHubProfile,
	},
	ProviderGoogle: {
		endpoint:    endpoints.Google,
		userInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		scopes:      []string{"openid", "email", "profile"},
		mapper:      mapGoogleProfile,
	},
	ProviderKakao: {
		endpoint:    endpoints.KaKao,
		userInfoURL: "https://kapi.kakao.com/v2/user/me",
		scopes:      []string{"profile_nickname", "account_email"},
		mapper:      mapKakaoProfile,
	},
	ProviderNaver: {
		endpoint:    naverEndpoint,
		userInfoURL: "https://openapi.naver.com/v1/nid/me",
		mapper:      mapNaverProfile,
	},
}

// NewOAuthProvider はIdPを生成する。clientはトークン交換とユーザー情報取得に使われる。
func NewOAuthProvider(name Provider, settings ProviderSettings, client *http.Client) (*OAuthProvider, error) {
	d, ok := defaults[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %q", name)
	}
	if settings.ClientID == "" {
		return nil, fmt.Errorf("client ID is required for %s", name)
	}

	endpoint := d.endpoint
	if settings.Endpoint.TokenURL != "" {
		endpoint = settings.Endpoint
	}
	userInfoURL := d.userInfoURL
	if settings.UserInfoURL != "" {
		userInfoURL = settings.UserInfoURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &OAuthProvider{
		name: name,
		config: oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			RedirectURL:  settings.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       d.scopes,
		},
		userInfoURL: userInfoURL,
		mapProfile:  d.mapper,
		client:      client,
	}, nil
}

// Name はプロバイダー名を返す。
func (p *OAuthProvider) Name() Provider {
	return p.name
}

// Endpoints は起動時検証用に、このプロバイダーが呼び出すURLを返す。
func (p *OAuthProvider) Endpoints() []string {
	return []string{p.config.Endpoint.AuthURL, p.config.Endpoint.TokenURL, p.userInfoURL}
}

// AuthCodeURL は認可URLを生成する。
func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *OAuthProvider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

// Exchange は認可コードをアクセストークンに交換する。
// IdPが4xxで拒否した場合はErrTokenRejectedを返す。
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (string, error) {
	token, err := p.config.Exchange(p.withClient(ctx), code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return "", fmt.Errorf("%s: %w", p.name, ErrTokenRejected)
		}
		return "", fmt.Errorf("%s: token exchange failed: %w", p.name, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%s: empty access token: %w", p.name, ErrTokenRejected)
	}
	return token.AccessToken, nil
}

// VerifyToken はアクセストークンでユーザー情報エンドポイントを呼び出し、プロフィールを返す。
func (p *OAuthProvider) VerifyToken(ctx context.Context, token string) (*ProviderProfile, error) {
	ctx = p.withClient(ctx)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create user info request: %w", p.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: user info request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoSize))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read user info response: %w", p.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: status %d: %w", p.name, resp.StatusCode, ErrTokenRejected)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: user info fetch failed with status %d", p.name, resp.StatusCode)
	}

	profile, err := p.mapProfile(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return profile, nil
}

// --- プロフィール変換 ---

func mapGitHubProfile(body []byte) (*ProviderProfile, error) {
	var info struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if info.ID == 0 {
		return nil, fmt.Errorf("missing user id: %w", ErrTokenRejected)
	}
	name := info.Name
	if name == "" {
		name = info.Login
	}
	return &ProviderProfile{ProviderUserID: strconv.FormatInt(info.ID, 10), DisplayName: name, Email: info.Email}, nil
}

func mapGoogleProfile(body []byte) (*ProviderProfile, error) {
	var info struct {
		Sub   string `json:"sub"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("missing sub: %w", ErrTokenRejected)
	}
	return &ProviderProfile{ProviderUserID: info.Sub, DisplayName: info.Name, Email: info.Email}, nil
}

func mapKakaoProfile(body []byte) (*ProviderProfile, error) {
	var info struct {
		ID           int64 `json:"id"`
		KakaoAccount struct {
			Email   string `json:"email"`
			Profile struct {
				Nickname string `json:"nickname"`
			} `json:"profile"`
		} `json:"kakao_account"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if info.ID == 0 {
		return nil, fmt.Errorf("missing user id: %w", ErrTokenRejected)
	}
	return &ProviderProfile{
		ProviderUserID: strconv.FormatInt(info.ID, 10),
		DisplayName:    info.KakaoAccount.Profile.Nickname,
		Email:          info.KakaoAccount.Email,
	}, nil
}

func mapNaverProfile(body []byte) (*ProviderProfile, error) {
	var info struct {
		ResultCode string `json:"resultcode"`
		Message    string `json:"message"`
		Response   struct {
			ID       string `json:"id"`
			Nickname string `json:"nickname"`
			Name     string `json:"name"`
			Email    string `json:"email"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if info.ResultCode != "00" || info.Response.ID == "" {
		return nil, fmt.Errorf("resultcode %q (%s): %w", info.ResultCode, info.Message, ErrTokenRejected)
	}
	name := info.Response.Nickname
	if name == "" {
		name = info.Response.Name
	}
	return &ProviderProfile{ProviderUserID: info.Response.ID, DisplayName: name, Email: info.Response.Email}, nil
}

// compile-time interface check
var (
	_ ProviderVerifier = (*OAuthProvider)(nil)
	_ CodeExchanger    = (*OAuthProvider)(nil)
)
