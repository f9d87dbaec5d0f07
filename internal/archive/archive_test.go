package archive

import (
	"context"
	"path/filepath"
	"testing"

	"inboxwatch/internal/poller"
)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRecordMatchIdempotent(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	m := poller.ArchivedMatch{
		RunID: "r1", Source: "gmail", WatchTitle: "Vendor",
		MessageID: "m1", Sender: "ops@vendor.com", Subject: "Outage",
	}
	if err := a.RecordMatch(ctx, m); err != nil {
		t.Fatalf("first record: %v", err)
	}

	// Same message from a later run must not duplicate.
	m.RunID = "r2"
	if err := a.RecordMatch(ctx, m); err != nil {
		t.Fatalf("second record: %v", err)
	}

	got, err := a.RecentMatches(ctx, "gmail", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].RunID != "r1" || got[0].MessageID != "m1" {
		t.Errorf("unexpected row: %+v", got[0])
	}
}

func TestRecentMatchesFiltersSource(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	for _, m := range []poller.ArchivedMatch{
		{RunID: "r1", Source: "gmail", WatchTitle: "A", MessageID: "m1"},
		{RunID: "r1", Source: "slack", WatchTitle: "task-signal", MessageID: "1000.1"},
		{RunID: "r2", Source: "gmail", WatchTitle: "B", MessageID: "m2"},
	} {
		if err := a.RecordMatch(ctx, m); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := a.RecentMatches(ctx, "gmail", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	// Newest first.
	if got[0].MessageID != "m2" || got[1].MessageID != "m1" {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestRecordRun(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	r := poller.RunSummary{ID: "r1", Source: "gmail", Fetched: 5, Matched: 2, Written: 3}
	if err := a.RecordRun(ctx, r); err != nil {
		t.Fatalf("record run: %v", err)
	}

	var fetched, matched int
	err := a.db.QueryRowContext(ctx,
		`SELECT fetched, matched FROM runs WHERE id = ?`, "r1",
	).Scan(&fetched, &matched)
	if err != nil {
		t.Fatalf("query run: %v", err)
	}
	if fetched != 5 || matched != 2 {
		t.Errorf("run row = %d/%d", fetched, matched)
	}
}
