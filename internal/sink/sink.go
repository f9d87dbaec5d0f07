// Package sink appends match results to the flat-file stores: the daily log
// and the pending-task inbox. Writes are idempotent, keyed on a per-message
// tag scanned for in the existing store before appending. The linear scan
// trades throughput for auditability; the stores stay flat and greppable.
package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inboxwatch/internal/errs"
)

// taskPreamble is written once, before the first entry of a new task inbox.
const taskPreamble = "# Slack & Email Task Inbox\n\n*Potential tasks detected. Review before acting.*\n\n"

// Tag returns the machine-findable marker embedding a message identifier.
func Tag(id string) string {
	return fmt.Sprintf("<!-- msg:%s -->", id)
}

// Writer appends tagged records to the stores under one base directory.
type Writer struct {
	dailyDir string
	taskPath string
	now      func() time.Time
}

// NewWriter creates a Writer for the given daily-log directory and task
// inbox path.
func NewWriter(dailyDir, taskPath string) *Writer {
	return &Writer{dailyDir: dailyDir, taskPath: taskPath, now: time.Now}
}

// AppendIfAbsent appends text to the store at path unless tag already occurs
// in it as a literal substring. It reports whether a write happened. header,
// if non-empty, is inserted lazily before the first write that needs it
// (absent from the existing content).
func AppendIfAbsent(path, tag, text, header string) (bool, error) {
	existing, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, errs.Wrap(errs.KindStoreWrite, fmt.Sprintf("read store %s", path), err)
	}
	if strings.Contains(string(existing), tag) {
		return false, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // operator-supplied path
	if err != nil {
		return false, errs.Wrap(errs.KindStoreWrite, fmt.Sprintf("open store %s", path), err)
	}
	defer func() { _ = f.Close() }()

	if header != "" && !strings.Contains(string(existing), strings.TrimSpace(header)) {
		if _, err := f.WriteString(header); err != nil {
			return false, errs.Wrap(errs.KindStoreWrite, fmt.Sprintf("write store %s", path), err)
		}
	}
	if _, err := f.WriteString(text); err != nil {
		return false, errs.Wrap(errs.KindStoreWrite, fmt.Sprintf("write store %s", path), err)
	}
	return true, nil
}

// AppendDaily appends a tagged entry to today's daily log under the given
// section header. The day's file must already exist; the log skeleton is
// created by an upstream tool, and a missing file means there is nothing to
// annotate today.
func (w *Writer) AppendDaily(section, tag, entry string) (bool, error) {
	path := w.dailyPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return AppendIfAbsent(path, tag, entry, "\n"+section+"\n")
}

// AppendTask appends a tagged entry to the pending-task inbox, creating the
// file with its preamble on first write.
func (w *Writer) AppendTask(tag, entry string) (bool, error) {
	return AppendIfAbsent(w.taskPath, tag, entry, taskPreamble)
}

func (w *Writer) dailyPath() string {
	return filepath.Join(w.dailyDir, w.now().Format("2006-01-02")+".md")
}
