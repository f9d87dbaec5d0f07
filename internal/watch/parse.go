// Package watch implements the watch registry and the match evaluator.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"inboxwatch/internal/errs"
	"inboxwatch/internal/model"
)

// Registry block markers. Each watch starts at a title marker and
// accumulates fields until the next title marker or end of input.
const (
	titleMarker   = "## Watch:"
	fieldFrom     = "- From:"
	fieldSubject  = "- Subject contains:"
	fieldThreadID = "- Thread ID:"
	fieldTask     = "- Task:"
	fieldAction   = "- Action:"
	fieldAdded    = "- Added:"
	fieldSnoozed  = "- Snoozed until:"
)

// builder accumulates declared fields for one watch block.
type builder struct {
	title   string
	fields  map[string]string
	started bool
}

func (b *builder) set(key, value string) {
	if b.fields == nil {
		b.fields = make(map[string]string)
	}
	b.fields[key] = value
}

// build validates the accumulated fields into a Watch.
// Unknown action values default to update.
func (b *builder) build() (model.Watch, bool) {
	if !b.started || b.title == "" {
		return model.Watch{}, false
	}
	w := model.Watch{
		Title:        b.title,
		ThreadID:     b.fields[fieldThreadID],
		TaskRef:      b.fields[fieldTask],
		AddedOn:      b.fields[fieldAdded],
		SnoozedUntil: b.fields[fieldSnoozed],
		Action:       model.ActionUpdate,
	}
	if model.Action(b.fields[fieldAction]) == model.ActionCreate {
		w.Action = model.ActionCreate
	}
	w.FromPatterns = splitList(b.fields[fieldFrom])
	w.SubjectKeywords = splitList(b.fields[fieldSubject])
	return w, true
}

// Parse parses registry text into watches in declaration order. Declaration
// order matters: the evaluator is first-match-wins. Unrecognized lines are
// ignored and untitled blocks are dropped.
func Parse(src string) []model.Watch {
	var watches []model.Watch
	var cur builder

	flush := func() {
		if w, ok := cur.build(); ok {
			watches = append(watches, w)
		}
	}

	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(line, titleMarker) {
			flush()
			cur = builder{title: strings.TrimSpace(line[len(titleMarker):]), started: true}
			continue
		}
		if !cur.started {
			continue
		}
		for _, key := range []string{
			fieldFrom, fieldSubject, fieldThreadID, fieldTask, fieldAction, fieldAdded, fieldSnoozed,
		} {
			if strings.HasPrefix(line, key) {
				cur.set(key, strings.TrimSpace(line[len(key):]))
				break
			}
		}
	}
	flush()
	return watches
}

// LoadRegistry reads and parses the registry file. An absent file yields an
// empty rule set; a file that exists but cannot be read is a configuration
// error.
func LoadRegistry(path string) ([]model.Watch, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, fmt.Sprintf("read registry %s", path), err)
	}
	return Parse(string(data)), nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
