package model

import (
	"encoding/json"
	"time"
)

// Order は注文データを表す。
// 内容はデータストアが所有し、アクセスゲートは加工せずにそのまま返す。
type Order struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Status    string          `json:"status"`
	Total     int64           `json:"total"`
	Currency  string          `json:"currency"`
	Items     json.RawMessage `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
