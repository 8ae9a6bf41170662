package memory

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRememberPromotesByImportance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Remember(ctx, "随手记录", "闲聊", 0.3); err != nil {
		t.Fatalf("remember low importance: %v", err)
	}
	if err := s.Remember(ctx, "咖啡店探店笔记", "咖啡", 0.8); err != nil {
		t.Fatalf("remember high importance: %v", err)
	}

	if got := s.ShortTermLen(); got != 2 {
		t.Fatalf("short-term should hold everything, got %d", got)
	}
	count, err := s.WorkingMemoryCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("only the high-importance entry should be promoted, got %d", count)
	}
}

func TestRecallRecentTopics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Remember(ctx, "a", "咖啡", 0.7); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := s.Remember(ctx, "b", "健身", 0.9); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := s.Remember(ctx, "c", "低分话题", 0.2); err != nil {
		t.Fatalf("remember: %v", err)
	}

	topics, err := s.RecallRecentTopics(ctx, 7)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !slices.Contains(topics, "咖啡") || !slices.Contains(topics, "健身") {
		t.Fatalf("expected promoted topics, got %v", topics)
	}
	if slices.Contains(topics, "低分话题") {
		t.Fatalf("low-importance topic must not be recallable, got %v", topics)
	}
}

func TestWorkingMemoryExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if err := s.Remember(ctx, "咖啡店探店", "咖啡", 0.7); err != nil {
		t.Fatalf("remember: %v", err)
	}
	topics, err := s.RecallRecentTopics(ctx, 7)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !slices.Contains(topics, "咖啡") {
		t.Fatalf("entry should be recallable right away, got %v", topics)
	}

	// Advance past the 7-day expiry.
	s.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	deleted, err := s.CompactWorkingMemory(ctx)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 expired row deleted, got %d", deleted)
	}
	topics, err = s.RecallRecentTopics(ctx, 30)
	if err != nil {
		t.Fatalf("recall after compact: %v", err)
	}
	if slices.Contains(topics, "咖啡") {
		t.Fatalf("expired topic must not be recallable, got %v", topics)
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if err := s.Remember(ctx, "entry", "话题", 0.9); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}

	s.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	if _, err := s.CompactWorkingMemory(ctx); err != nil {
		t.Fatalf("first compact: %v", err)
	}
	count1, err := s.WorkingMemoryCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	deleted, err := s.CompactWorkingMemory(ctx)
	if err != nil {
		t.Fatalf("second compact: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("second compact should delete nothing, got %d", deleted)
	}
	count2, err := s.WorkingMemoryCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count1 != count2 {
		t.Fatalf("row count changed between compacts: %d vs %d", count1, count2)
	}
}

func TestEngagementScore(t *testing.T) {
	// comments and shares weigh 4x.
	if got := EngagementScore(10, 2, 5, 1); got != 10+5+8+4 {
		t.Fatalf("unexpected engagement score %d", got)
	}
}

func TestTopPerformingStyles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []PerformanceRecord{
		{ContentType: "探店", Topic: "咖啡", Title: "a", Likes: 100, Comments: 10},
		{ContentType: "探店", Topic: "美食", Title: "b", Likes: 200, Comments: 20},
		{ContentType: "教程", Topic: "健身", Title: "c", Likes: 10},
	}
	for _, rec := range records {
		if err := s.RecordPerformance(ctx, rec); err != nil {
			t.Fatalf("record performance: %v", err)
		}
	}

	stats, err := s.TopPerformingStyles(ctx, 5)
	if err != nil {
		t.Fatalf("top styles: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 content types, got %d", len(stats))
	}
	if stats[0].ContentType != "探店" {
		t.Fatalf("expected 探店 to rank first, got %+v", stats)
	}
	if stats[0].Samples != 2 {
		t.Fatalf("expected 2 samples for 探店, got %d", stats[0].Samples)
	}
}

func TestSchemaReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Remember(context.Background(), "x", "话题", 0.9); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	count, err := s2.WorkingMemoryCount(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("working memory should survive reopen, got %d", count)
	}
}
