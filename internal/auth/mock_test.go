package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

var _ repository.UserRepository = (*mockUserRepo)(nil)

// mockUserRepo はUserRepositoryのテスト用モック。
// InsertIfAbsentFnが未設定の場合はミューテックスで保護したマップで冪等な作成を模倣する。
type mockUserRepo struct {
	FindByIDFn           func(ctx context.Context, id string) (*model.User, error)
	FindByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	CreateWithPasswordFn func(ctx context.Context, user *model.User) error
	InsertIfAbsentFn     func(ctx context.Context, account *model.ProviderAccount, user *model.User) (*model.User, bool, error)
	DeleteByIDFn         func(ctx context.Context, id string) error

	mu        sync.Mutex
	byAccount map[string]*model.User
	inserts   atomic.Int32
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.FindByIDFn != nil {
		return m.FindByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.FindByEmailFn != nil {
		return m.FindByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithPassword(ctx context.Context, user *model.User) error {
	if m.CreateWithPasswordFn != nil {
		return m.CreateWithPasswordFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) InsertIfAbsent(ctx context.Context, account *model.ProviderAccount, user *model.User) (*model.User, bool, error) {
	if m.InsertIfAbsentFn != nil {
		return m.InsertIfAbsentFn(ctx, account, user)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byAccount == nil {
		m.byAccount = make(map[string]*model.User)
	}
	key := account.Provider + "/" + account.ProviderUserID
	if existing, ok := m.byAccount[key]; ok {
		return existing, false, nil
	}
	stored := *user
	m.byAccount[key] = &stored
	m.inserts.Add(1)
	return &stored, true, nil
}

func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	if m.DeleteByIDFn != nil {
		return m.DeleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) userCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAccount)
}

var _ repository.ProviderAccountRepository = (*mockAccountRepo)(nil)

type mockAccountRepo struct {
	FindByProviderAndProviderUserIDFn func(ctx context.Context, provider, providerUserID string) (*model.ProviderAccount, error)
	ListByUserIDFn                    func(ctx context.Context, userID string) ([]*model.ProviderAccount, error)
}

func (m *mockAccountRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ProviderAccount, error) {
	if m.FindByProviderAndProviderUserIDFn != nil {
		return m.FindByProviderAndProviderUserIDFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

func (m *mockAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.ProviderAccount, error) {
	if m.ListByUserIDFn != nil {
		return m.ListByUserIDFn(ctx, userID)
	}
	return nil, nil
}

// mockVerifier はProviderVerifierのテスト用モック。
type mockVerifier struct {
	VerifyTokenFn func(ctx context.Context, token string) (*ProviderProfile, error)
	calls         atomic.Int32
}

func (m *mockVerifier) VerifyToken(ctx context.Context, token string) (*ProviderProfile, error) {
	m.calls.Add(1)
	return m.VerifyTokenFn(ctx, token)
}

// mockExchanger はCodeExchangerのテスト用モック。
type mockExchanger struct {
	AuthCodeURLFn func(state string) string
	ExchangeFn    func(ctx context.Context, code string) (string, error)
}

func (m *mockExchanger) AuthCodeURL(state string) string {
	if m.AuthCodeURLFn != nil {
		return m.AuthCodeURLFn(state)
	}
	return "https://idp.example.com/authorize?state=" + state
}

func (m *mockExchanger) Exchange(ctx context.Context, code string) (string, error) {
	return m.ExchangeFn(ctx, code)
}

var _ SessionIssuer = (*mockSessions)(nil)

type mockSessions struct {
	IssueFn         func(ctx context.Context, identity *model.Identity) (*model.Session, error)
	RevokeSessionFn func(ctx context.Context, sessionID string) error
	SessionIDFn     func(evidence string) (string, bool)
}

func (m *mockSessions) Issue(ctx context.Context, identity *model.Identity) (*model.Session, error) {
	if m.IssueFn != nil {
		return m.IssueFn(ctx, identity)
	}
	return &model.Session{ID: "sess-1", UserID: identity.SubjectID, Token: "token-1"}, nil
}

func (m *mockSessions) RevokeSession(ctx context.Context, sessionID string) error {
	if m.RevokeSessionFn != nil {
		return m.RevokeSessionFn(ctx, sessionID)
	}
	return nil
}

func (m *mockSessions) SessionID(evidence string) (string, bool) {
	if m.SessionIDFn != nil {
		return m.SessionIDFn(evidence)
	}
	return "", false
}

// recordingCollector はRecordSignInの呼び出しを記録する。
type recordingCollector struct {
	mu      sync.Mutex
	signIns []string
}

func (c *recordingCollector) RecordSignIn(kind, provider, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signIns = append(c.signIns, kind+"/"+provider+"/"+result)
}

func (c *recordingCollector) RecordGateRequest(string) {}
func (c *recordingCollector) RecordSessionVerify(string) {}
func (c *recordingCollector) RecordStoreLatency(string, time.Duration) {}
func (c *recordingCollector) RecordHTTPStatus(int) {}
func (c *recordingCollector) RecordSessionsPurged(int64) {}
