package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockPurger struct {
	mu      sync.Mutex
	calls   int
	befores []time.Time
	deleted int64
	err     error
	hasDL   bool
}

func (m *mockPurger) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.befores = append(m.befores, before)
	_, m.hasDL = ctx.Deadline()
	return m.deleted, m.err
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type purgeRecorder struct {
	mu     sync.Mutex
	counts []int64
}

func (r *purgeRecorder) RecordSignIn(string, string, string) {}
func (r *purgeRecorder) RecordGateRequest(string) {}
func (r *purgeRecorder) RecordSessionVerify(string) {}
func (r *purgeRecorder) RecordStoreLatency(string, time.Duration) {}
func (r *purgeRecorder) RecordHTTPStatus(int) {}
func (r *purgeRecorder) RecordSessionsPurged(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, n)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestCleanupJob_Run_DeletesExpiredBeforeNow(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{deleted: 5}
	rec := &purgeRecorder{}
	job := NewCleanupJob(purger, newTestLogger(&buf), rec, time.Second)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if purger.calls != 1 {
		t.Fatalf("DeleteExpired calls = %d, want 1", purger.calls)
	}
	if !purger.befores[0].Equal(fixed) {
		t.Errorf("before = %v, want %v", purger.befores[0], fixed)
	}
	if !purger.hasDL {
		t.Error("DeleteExpired should run with a deadline")
	}
	if len(rec.counts) != 1 || rec.counts[0] != 5 {
		t.Errorf("purged counts = %v, want [5]", rec.counts)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{deleted: 42}, newTestLogger(&buf), nil, 0)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log line: %v", err)
		}
	}
	if got, ok := entry["deleted_count"].(float64); !ok || got != 42 {
		t.Errorf("deleted_count = %v, want 42", entry["deleted_count"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms should be logged")
	}
}

func TestCleanupJob_Run_NothingToDelete(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, newTestLogger(&buf), nil, 0)

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run should be idempotent, got %v", err)
	}
}

func TestCleanupJob_Run_ReturnsStoreError(t *testing.T) {
	var buf bytes.Buffer
	storeErr := errors.New("connection refused")
	rec := &purgeRecorder{}
	job := NewCleanupJob(&mockPurger{err: storeErr}, newTestLogger(&buf), rec, 0)

	err := job.Run(context.Background())
	if !errors.Is(err, storeErr) {
		t.Fatalf("err = %v, want wrapping %v", err, storeErr)
	}
	if len(rec.counts) != 0 {
		t.Error("failed run should not record purged sessions")
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Error("failure should be logged at ERROR")
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{}
	job := NewCleanupJob(purger, newTestLogger(&buf), nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for purger.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if purger.callCount() < 2 {
		t.Errorf("DeleteExpired calls = %d, want >= 2", purger.callCount())
	}
}
