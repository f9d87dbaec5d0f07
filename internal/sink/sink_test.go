package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"inboxwatch/internal/errs"
	"inboxwatch/internal/model"
)

func testWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	dailyDir := filepath.Join(dir, "daily")
	if err := os.MkdirAll(dailyDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	w := NewWriter(dailyDir, filepath.Join(dir, "task-inbox.md"))
	w.now = func() time.Time { return time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC) }
	return w, dir
}

func TestAppendIfAbsentIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.md")
	tag := Tag("m1")
	entry := "entry one " + tag + "\n"

	wrote, err := AppendIfAbsent(path, tag, entry, "")
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if !wrote {
		t.Error("first append must write")
	}

	wrote, err = AppendIfAbsent(path, tag, entry, "")
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if wrote {
		t.Error("second append must be a no-op")
	}

	data, _ := os.ReadFile(path)
	if got := strings.Count(string(data), tag); got != 1 {
		t.Errorf("store contains tag %d times, want exactly 1", got)
	}
}

func TestAppendIfAbsentUnwritable(t *testing.T) {
	// A directory at the store path is unreadable as a file.
	dir := t.TempDir()
	path := filepath.Join(dir, "store.md")
	if err := os.Mkdir(path, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := AppendIfAbsent(path, Tag("m1"), "x", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errs.IsKind(err, errs.KindStoreWrite) {
		t.Errorf("expected store write error, got %v", err)
	}
}

func TestAppendDaily(t *testing.T) {
	w, _ := testWriter(t)
	path := filepath.Join(w.dailyDir, "2026-08-28.md")

	t.Run("missing day file skips", func(t *testing.T) {
		wrote, err := w.AppendDaily(SectionEmail, Tag("m1"), "- line\n")
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if wrote {
			t.Error("append without a day file must be a no-op")
		}
	})

	if err := os.WriteFile(path, []byte("# Thursday\n"), 0o600); err != nil {
		t.Fatalf("seed day file: %v", err)
	}

	t.Run("section header inserted once", func(t *testing.T) {
		for _, id := range []string{"m1", "m2"} {
			entry := "- line " + Tag(id) + "\n"
			wrote, err := w.AppendDaily(SectionEmail, Tag(id), entry)
			if err != nil {
				t.Fatalf("append %s: %v", id, err)
			}
			if !wrote {
				t.Errorf("append %s must write", id)
			}
		}

		data, _ := os.ReadFile(path)
		if got := strings.Count(string(data), SectionEmail); got != 1 {
			t.Errorf("section header appears %d times, want 1", got)
		}
		if !strings.Contains(string(data), Tag("m2")) {
			t.Error("second entry missing")
		}
	})

	t.Run("distinct sections coexist", func(t *testing.T) {
		if _, err := w.AppendDaily(SectionChat, Tag("s1"), "- chat "+Tag("s1")+"\n"); err != nil {
			t.Fatalf("append: %v", err)
		}
		data, _ := os.ReadFile(path)
		if !strings.Contains(string(data), SectionChat) {
			t.Error("chat section header missing")
		}
	})
}

func TestAppendTask(t *testing.T) {
	w, dir := testWriter(t)
	path := filepath.Join(dir, "task-inbox.md")

	first := "## [ ] task one\n" + Tag("m1") + "\n\n"
	if _, err := w.AppendTask(Tag("m1"), first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := w.AppendTask(Tag("m2"), "## [ ] task two\n"+Tag("m2")+"\n\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Re-append of m1 is a no-op.
	if wrote, _ := w.AppendTask(Tag("m1"), first); wrote {
		t.Error("duplicate task entry written")
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if got := strings.Count(content, "# Slack & Email Task Inbox"); got != 1 {
		t.Errorf("preamble appears %d times, want 1", got)
	}
	if !strings.HasPrefix(content, "# Slack & Email Task Inbox") {
		t.Error("preamble must lead the file")
	}
	if got := strings.Count(content, Tag("m1")); got != 1 {
		t.Errorf("m1 tag appears %d times, want 1", got)
	}
}

func TestFormatTaskEntry(t *testing.T) {
	res := model.MatchResult{
		Watch: model.Watch{Title: "Vendor outage", TaskRef: "#12", Action: model.ActionUpdate},
		Message: model.IncomingMessage{
			ID:          "m9",
			From:        "Ops <ops@vendor.com>",
			Subject:     "Outage update",
			BodyPreview: "We are still investigating\nthe root cause",
		},
	}

	got := FormatTaskEntry(res, "2026-08-28 10:30")
	for _, want := range []string{
		"## [ ] 📧 Ops <ops@vendor.com> — 2026-08-28 10:30",
		"**Watch**: Vendor outage",
		"**Linked task**: #12 (update)",
		"**Subject**: Outage update",
		"We are still investigating the root cause",
		Tag("m9"),
	} {
		if !strings.Contains(got, want) {
			t.Errorf("entry missing %q:\n%s", want, got)
		}
	}
}

func TestFormatDailyChat(t *testing.T) {
	m := model.IncomingMessage{
		ID:          "1724831100.000200",
		From:        "Grace",
		Channel:     "DM: Grace",
		BodyPreview: "can you help with the vpn",
		Mention:     true,
		ReceivedAt:  time.Date(2026, 8, 28, 9, 45, 0, 0, time.UTC),
	}
	got := FormatDailyChat(m)
	for _, want := range []string{"**DM: Grace** 🔔", "[09:45]", "**Grace**", Tag(m.ID)} {
		if !strings.Contains(got, want) {
			t.Errorf("line missing %q: %s", want, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 400)
	if got := truncate(long, 300); len(got) != 303 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate length = %d", len(got))
	}
	if got := truncate("short", 300); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	long := strings.Repeat("ü", 10)
	got := truncate(long, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("ü", 5)+"..." {
		t.Errorf("truncate = %q", got)
	}
}
