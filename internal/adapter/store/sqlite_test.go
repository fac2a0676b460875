package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"estate-assistant/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteTurnStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "turns.db")
	store, err := NewSQLiteTurnStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteTurnStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteTurnStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 4, 2, 9, 30, 0, 123456789, time.FixedZone("IST", 5*3600+1800))
	rec := domain.TurnRecord{
		ID:           "01JQZ8X5V7M2K9N4P6R8T0W2Y4",
		RequestID:    "req-42",
		StartedAt:    started,
		Outcome:      domain.OutcomeDone,
		Path:         domain.PathToolCall,
		ForcedSearch: true,
		ToolCalls:    1,
		Searches:     2,
		Latency:      1830 * time.Millisecond,
		Question:     "current land rate in Pocharam",
	}
	if err := store.RecordTurn(ctx, rec); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}

	got, err := store.RecentTurns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	g := got[0]
	if !g.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", g.StartedAt, started)
	}
	g.StartedAt = rec.StartedAt
	if g != rec {
		t.Errorf("record = %+v, want %+v", g, rec)
	}
}

func TestSQLiteTurnStore_RecentTurnsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	// Mixed sub-second precision must still sort chronologically.
	offsets := []time.Duration{0, 500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for i, off := range offsets {
		rec := domain.TurnRecord{
			ID:        fmt.Sprintf("turn-%d", i),
			StartedAt: base.Add(off),
			Outcome:   domain.OutcomeDone,
		}
		if err := store.RecordTurn(ctx, rec); err != nil {
			t.Fatalf("RecordTurn %d: %v", i, err)
		}
	}

	got, err := store.RecentTurns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if want := "turn-3,turn-2,turn-1"; strings.Join(ids, ",") != want {
		t.Errorf("order = %v, want %s", ids, want)
	}
}

func TestSQLiteTurnStore_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := domain.TurnRecord{ID: "dup", StartedAt: time.Now(), Outcome: domain.OutcomeRateLimited}
	if err := store.RecordTurn(ctx, rec); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	err := store.RecordTurn(ctx, rec)
	if !errors.Is(err, domain.ErrLedgerWrite) {
		t.Errorf("err = %v, want ErrLedgerWrite", err)
	}
}

func TestSQLiteTurnStore_ClipsQuestion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("ప్లాట్ ", 200)
	if err := store.RecordTurn(ctx, domain.TurnRecord{ID: "q", StartedAt: time.Now(), Outcome: domain.OutcomeDone, Question: long}); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	got, err := store.RecentTurns(ctx, 1)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if n := len([]rune(got[0].Question)); n != maxQuestionRunes {
		t.Errorf("question runes = %d, want %d", n, maxQuestionRunes)
	}
}
