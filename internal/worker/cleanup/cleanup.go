// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 期限切れのセッションは検証時に必ず拒否されるため、このジョブは
// セキュリティではなくストレージの肥大化を防ぐためのもの。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/storefront/internal/metrics"
)

// ExpiredSessionPurger は期限切れセッションの一括削除を抽象化するインターフェース。
// repository.SessionRepository が実装する。
type ExpiredSessionPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等な削除処理で、複数インスタンスから同時に実行しても問題ない。
type CleanupJob struct {
	sessions  ExpiredSessionPurger
	logger    *slog.Logger
	collector metrics.MetricsCollector
	timeout   time.Duration

	// now はテストで時刻を固定するために差し替える。
	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// timeoutは1回の削除クエリに与える上限時間。
func NewCleanupJob(sessions ExpiredSessionPurger, logger *slog.Logger, collector metrics.MetricsCollector, timeout time.Duration) *CleanupJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:  sessions,
		logger:    logger,
		collector: collector,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Run は現在時刻までに期限切れとなったセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	deletedCount, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}
	j.collector.RecordSessionsPurged(deletedCount)

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はinterval間隔でRunを繰り返す。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
