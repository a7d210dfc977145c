package repository

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPostgresOrderRepo_FindByID(t *testing.T) {
	db := setupTestDB(t)
	users := NewPostgresUserRepo(db)
	repo := NewPostgresOrderRepo(db)
	ctx := context.Background()

	owner, _, err := users.InsertIfAbsent(ctx, newTestAccount("kakao", "k-o"), newTestUser("o@example.com"))
	if err != nil {
		t.Fatalf("InsertIfAbsent returned error: %v", err)
	}
	_, err = db.Exec(
		`INSERT INTO orders (id, user_id, status, total, currency, items) VALUES ('42', $1, 'paid', 15000, 'KRW', '[{"sku":"A-1","qty":2}]')`,
		owner.ID,
	)
	if err != nil {
		t.Fatalf("注文挿入に失敗: %v", err)
	}

	t.Run("存在する注文はそのまま返る", func(t *testing.T) {
		order, err := repo.FindByID(ctx, "42")
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if order == nil {
			t.Fatal("expected order, got nil")
		}
		if order.UserID != owner.ID || order.Status != "paid" || order.Total != 15000 || order.Currency != "KRW" {
			t.Errorf("unexpected order: %+v", order)
		}
		var items []struct {
			SKU string `json:"sku"`
			Qty int    `json:"qty"`
		}
		if err := json.Unmarshal(order.Items, &items); err != nil {
			t.Fatalf("Items is not valid JSON: %v", err)
		}
		if len(items) != 1 || items[0].SKU != "A-1" || items[0].Qty != 2 {
			t.Errorf("Items = %s", order.Items)
		}
	})

	t.Run("存在しない注文はnil", func(t *testing.T) {
		order, err := repo.FindByID(ctx, "999")
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if order != nil {
			t.Errorf("expected nil, got %+v", order)
		}
	})

	t.Run("キャンセル済みコンテキストはエラー", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := repo.FindByID(cancelled, "42"); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}
