package handler

import (
	"context"
	"time"

	"github.com/hitoshi/storefront/internal/auth"
	"github.com/hitoshi/storefront/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signInFn        func(ctx context.Context, cred auth.Credential) (*auth.SignInResult, error)
	registerFn      func(ctx context.Context, email, password, name string) (*auth.SignInResult, error)
	loginURLFn      func(provider auth.Provider, state string) (string, error)
	completeOAuthFn func(ctx context.Context, provider auth.Provider, code string) (*auth.SignInResult, error)
	logoutFn        func(ctx context.Context, evidence string) error
	currentUserFn   func(ctx context.Context, identity *model.Identity) (*auth.CurrentUser, error)
}

func (m *mockAuthService) SignIn(ctx context.Context, cred auth.Credential) (*auth.SignInResult, error) {
	return m.signInFn(ctx, cred)
}

func (m *mockAuthService) Register(ctx context.Context, email, password, name string) (*auth.SignInResult, error) {
	return m.registerFn(ctx, email, password, name)
}

func (m *mockAuthService) LoginURL(provider auth.Provider, state string) (string, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn(provider, state)
	}
	return "https://idp.example.com/authorize?state=" + state, nil
}

func (m *mockAuthService) CompleteOAuth(ctx context.Context, provider auth.Provider, code string) (*auth.SignInResult, error) {
	return m.completeOAuthFn(ctx, provider, code)
}

func (m *mockAuthService) Logout(ctx context.Context, evidence string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, evidence)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, identity *model.Identity) (*auth.CurrentUser, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, identity)
	}
	return &auth.CurrentUser{User: &model.User{ID: identity.SubjectID}}, nil
}

type mockOrderGate struct {
	handleFn func(ctx context.Context, evidence, orderID string) (*model.Order, error)
}

func (m *mockOrderGate) Handle(ctx context.Context, evidence, orderID string) (*model.Order, error) {
	return m.handleFn(ctx, evidence, orderID)
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockVerifier struct {
	identities map[string]*model.Identity
}

func (m *mockVerifier) Verify(ctx context.Context, evidence string) *model.Identity {
	return m.identities[evidence]
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

func testSignInResult(provider string) *auth.SignInResult {
	return &auth.SignInResult{
		Identity: &model.Identity{
			SubjectID:   "user-1",
			DisplayName: "Alice",
			Email:       "alice@example.com",
			Provider:    provider,
		},
		Session: &model.Session{
			ID:        "sess-1",
			UserID:    "user-1",
			Token:     "signed.session.token",
			IssuedAt:  time.Now(),
			ExpiresAt: time.Now().Add(24 * time.Hour),
		},
	}
}
