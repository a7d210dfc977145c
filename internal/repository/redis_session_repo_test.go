package repository

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisSessionRepo_CreateFindDelete(t *testing.T) {
	repo := NewRedisSessionRepo(setupTestRedis(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("r-1", "user-1", time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	found, err := repo.FindByID(ctx, "r-1")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if found == nil || found.UserID != "user-1" {
		t.Fatalf("FindByID = %+v, want session of user-1", found)
	}

	if err := repo.DeleteByID(ctx, "r-1"); err != nil {
		t.Fatalf("DeleteByID returned error: %v", err)
	}
	if found, _ := repo.FindByID(ctx, "r-1"); found != nil {
		t.Error("expected nil after DeleteByID")
	}
}

func TestRedisSessionRepo_Create_ExpiredSession_ReturnsError(t *testing.T) {
	repo := NewRedisSessionRepo(setupTestRedis(t))

	if err := repo.Create(context.Background(), newTestSession("r-old", "user-1", -time.Second)); err == nil {
		t.Error("expected error for already expired session")
	}
}

func TestRedisSessionRepo_FindByID_PastExpiry_ReturnsNil(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisSessionRepo(client)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("r-clock", "user-1", time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	repo.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	found, err := repo.FindByID(ctx, "r-clock")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if found != nil {
		t.Error("expected nil for session past its expiry")
	}
}

func TestRedisSessionRepo_DeleteByUserID_RemovesAll(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisSessionRepo(client)
	ctx := context.Background()

	for _, id := range []string{"r-a", "r-b"} {
		if err := repo.Create(ctx, newTestSession(id, "user-2", time.Hour)); err != nil {
			t.Fatalf("Create(%s) returned error: %v", id, err)
		}
	}
	if err := repo.Create(ctx, newTestSession("r-other", "user-3", time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := repo.DeleteByUserID(ctx, "user-2"); err != nil {
		t.Fatalf("DeleteByUserID returned error: %v", err)
	}
	for _, id := range []string{"r-a", "r-b"} {
		if s, _ := repo.FindByID(ctx, id); s != nil {
			t.Errorf("session %s still present", id)
		}
	}
	if s, _ := repo.FindByID(ctx, "r-other"); s == nil {
		t.Error("other user's session should remain")
	}
	if n, _ := client.Exists(ctx, userSessionsKey("user-2")).Result(); n != 0 {
		t.Error("user session set should be deleted")
	}
}

// afterSMembersHook はSMEMBERSの完了直後に一度だけfnを実行する。
type afterSMembersHook struct {
	once sync.Once
	fn   func(ctx context.Context)
}

func (h *afterSMembersHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *afterSMembersHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "smembers" {
			h.once.Do(func() { h.fn(ctx) })
		}
		return err
	}
}

func (h *afterSMembersHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisSessionRepo_DeleteByUserID_KeepsSessionCreatedConcurrently(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisSessionRepo(client)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSession("r-early", "user-4", time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// 列挙と削除の間に新しいセッションが発行される状況を再現する
	client.AddHook(&afterSMembersHook{fn: func(ctx context.Context) {
		if err := repo.Create(ctx, newTestSession("r-late", "user-4", time.Hour)); err != nil {
			t.Errorf("Create(r-late) returned error: %v", err)
		}
	}})

	if err := repo.DeleteByUserID(ctx, "user-4"); err != nil {
		t.Fatalf("DeleteByUserID returned error: %v", err)
	}
	if s, _ := repo.FindByID(ctx, "r-early"); s != nil {
		t.Error("r-early should be deleted")
	}

	members, err := client.SMembers(ctx, userSessionsKey("user-4")).Result()
	if err != nil {
		t.Fatalf("SMembers returned error: %v", err)
	}
	if len(members) != 1 || members[0] != "r-late" {
		t.Fatalf("user session set = %v, want [r-late]", members)
	}

	// 索引が残っているので後続の一括失効で削除できる
	if err := repo.DeleteByUserID(ctx, "user-4"); err != nil {
		t.Fatalf("second DeleteByUserID returned error: %v", err)
	}
	if s, _ := repo.FindByID(ctx, "r-late"); s != nil {
		t.Error("r-late should be deleted by the second call")
	}
}
