// Package order は注文リソースへのアクセスゲートを提供する。
//
// ゲートはセッションエビデンスを検証してから注文を取得する。
// 未認証のリクエストではデータストアに一切問い合わせない。
package order

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
)

var tracer = otel.Tracer("github.com/hitoshi/storefront/internal/order")

// Policy は認証済みユーザーがどの注文を参照できるかを表す。
type Policy string

const (
	// PolicyAnySession は有効なセッションがあれば任意の注文を返す。
	PolicyAnySession Policy = "any_session"
	// PolicyOwnerOnly は注文の所有者のみに返す。所有者でない場合は存在しないものとして扱う。
	PolicyOwnerOnly Policy = "owner_only"
)

// ParsePolicy は設定値をPolicyに変換する。
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAnySession, PolicyOwnerOnly:
		return p, nil
	case "":
		return PolicyAnySession, nil
	default:
		return "", fmt.Errorf("unknown order access policy: %q", s)
	}
}

// Verifier はセッションエビデンスを検証する。
// 無効なエビデンスではnilを返す。
type Verifier interface {
	Verify(ctx context.Context, evidence string) *model.Identity
}

// OrderFinder は注文を取得する。見つからない場合は(nil, nil)を返す。
type OrderFinder interface {
	FindByID(ctx context.Context, id string) (*model.Order, error)
}

// Gate は注文へのアクセスを制御する。
type Gate struct {
	verifier     Verifier
	orders       OrderFinder
	policy       Policy
	storeTimeout time.Duration
	metrics      metrics.MetricsCollector
}

// NewGate はGateを生成する。
func NewGate(verifier Verifier, orders OrderFinder, policy Policy, storeTimeout time.Duration, collector metrics.MetricsCollector) *Gate {
	if policy == "" {
		policy = PolicyAnySession
	}
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Gate{
		verifier:     verifier,
		orders:       orders,
		policy:       policy,
		storeTimeout: storeTimeout,
		metrics:      collector,
	}
}

// Handle はエビデンスを検証し、注文を加工せずに返す。
//
// 失敗時は次のAPIErrorを返す:
//   - UNAUTHORIZED: エビデンスがない、または無効
//   - ORDER_NOT_FOUND: 注文が存在しない、またはポリシーにより参照できない
//   - STORE_UNAVAILABLE: データストアの障害またはタイムアウト
func (g *Gate) Handle(ctx context.Context, evidence, orderID string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "order.Gate.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	identity := g.verifier.Verify(ctx, evidence)
	if identity == nil {
		g.metrics.RecordGateRequest(metrics.ResultUnauthorized)
		span.SetStatus(codes.Error, "unauthorized")
		return nil, model.NewUnauthorizedError()
	}
	span.SetAttributes(attribute.String("user.id", identity.SubjectID))

	order, err := g.find(ctx, orderID)
	if err != nil {
		g.metrics.RecordGateRequest(metrics.ResultUnavailable)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("failed to find order",
			slog.String("order_id", orderID),
			slog.String("user_id", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError()
	}

	if order == nil || !g.permits(identity, order) {
		g.metrics.RecordGateRequest(metrics.ResultNotFound)
		return nil, model.NewOrderNotFoundError(orderID)
	}

	g.metrics.RecordGateRequest(metrics.ResultAllowed)
	return order, nil
}

func (g *Gate) find(ctx context.Context, orderID string) (*model.Order, error) {
	storeCtx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	start := time.Now()
	order, err := g.orders.FindByID(storeCtx, orderID)
	g.metrics.RecordStoreLatency("order_find", time.Since(start))
	if err != nil {
		return nil, err
	}
	// 期限内に応答しなかったストアの結果は採用しない
	if ctxErr := storeCtx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return order, nil
}

func (g *Gate) permits(identity *model.Identity, order *model.Order) bool {
	switch g.policy {
	case PolicyOwnerOnly:
		return order.UserID != "" && order.UserID == identity.SubjectID
	default:
		return true
	}
}
