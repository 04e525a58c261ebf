package conversation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildInjectionPrependsSummaryWhenPresent(t *testing.T) {
	summary := "the user asked about billing"
	lc := &LoadedContext{
		LatestSnapshotSummary: &summary,
		Messages: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}

	got := BuildInjection(lc)
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if got[0].Role != "system" || got[0].Content != "Previous conversation summary:\nthe user asked about billing" {
		t.Errorf("got[0] = %+v, want summary system message", got[0])
	}
	if got[1].Role != "user" || got[2].Role != "assistant" {
		t.Errorf("message order not preserved: %+v", got)
	}
}

func TestBuildInjectionOmitsSummaryWhenAbsent(t *testing.T) {
	lc := &LoadedContext{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}

	got := BuildInjection(lc)
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Role != "user" {
		t.Errorf("got[0].Role = %q, want user", got[0].Role)
	}
}

func TestBuildInjectionEmptyContextReturnsEmpty(t *testing.T) {
	got := BuildInjection(&LoadedContext{})
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0", len(got))
	}
}

func TestCoordinatorMaybeSnapshotSkipsBelowThreshold(t *testing.T) {
	called := false
	c := NewCoordinator(nil, func(ctx context.Context, tenantID, conversationID uuid.UUID, summaryModel *string, messages []Message) (string, error) {
		called = true
		return "", nil
	}, testLogger())

	lc := &LoadedContext{TokenEstimate: 10, Messages: []Message{{Role: "user", Content: "hi", CreatedAt: time.Now()}}}
	c.MaybeSnapshot(uuid.New(), uuid.New(), nil, lc, 100)

	// MaybeSnapshot only launches a goroutine when the threshold is
	// reached; below threshold it must return synchronously without
	// ever scheduling the summarizer.
	if called {
		t.Error("summarize should not have been called below the token threshold")
	}
}

func TestCoordinatorMaybeSnapshotSkipsEmptyMessages(t *testing.T) {
	called := false
	c := NewCoordinator(nil, func(ctx context.Context, tenantID, conversationID uuid.UUID, summaryModel *string, messages []Message) (string, error) {
		called = true
		return "", nil
	}, testLogger())

	lc := &LoadedContext{TokenEstimate: 1000}
	c.MaybeSnapshot(uuid.New(), uuid.New(), nil, lc, 100)

	if called {
		t.Error("summarize should not have been called with no messages")
	}
}
