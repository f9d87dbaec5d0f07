package watch

import (
	"regexp"
	"strings"
	"time"

	"inboxwatch/internal/model"
)

const snoozeLayout = "2006-01-02"

// Matches reports whether the message satisfies the watch.
//
// Precedence: a snoozed watch never matches; a declared thread ID is decided
// by thread equality alone; otherwise the sender must match any From pattern
// and the subject must contain any keyword, with an undeclared field counting
// as matched. A watch declaring none of the three matches nothing.
func Matches(w model.Watch, m model.IncomingMessage) bool {
	return matchesOn(w, m, time.Now())
}

// FirstMatch returns the earliest-declared watch the message satisfies.
// A message that could satisfy two watches is attributed to the first only.
func FirstMatch(watches []model.Watch, m model.IncomingMessage) (model.Watch, bool) {
	for _, w := range watches {
		if Matches(w, m) {
			return w, true
		}
	}
	return model.Watch{}, false
}

func matchesOn(w model.Watch, m model.IncomingMessage, now time.Time) bool {
	if snoozed(w, now) {
		return false
	}

	// Thread identity is a stronger signal than any heuristic; once a
	// thread ID is declared, no other field is consulted.
	if w.ThreadID != "" {
		return m.ThreadID == w.ThreadID
	}

	if len(w.FromPatterns) == 0 && len(w.SubjectKeywords) == 0 {
		return false
	}

	matchedFrom := true
	if len(w.FromPatterns) > 0 {
		matchedFrom = anyPatternMatch(w.FromPatterns, m.From)
	}

	matchedSubject := true
	if len(w.SubjectKeywords) > 0 {
		matchedSubject = anyKeywordContains(w.SubjectKeywords, m.Subject)
	}

	return matchedFrom && matchedSubject
}

// snoozed reports whether the watch is snoozed at the given time.
// A malformed snooze date fails open: the watch stays active.
func snoozed(w model.Watch, now time.Time) bool {
	if w.SnoozedUntil == "" {
		return false
	}
	until, err := time.Parse(snoozeLayout, w.SnoozedUntil)
	if err != nil {
		return false
	}
	today, _ := time.Parse(snoozeLayout, now.Format(snoozeLayout))
	return !today.After(until)
}

// anyPatternMatch checks the value against wildcard patterns, OR-combined.
// "*" expands to any run of characters; matching is case-insensitive and
// substring-anchored. An uncompilable pattern matches nothing.
func anyPatternMatch(patterns []string, value string) bool {
	for _, p := range patterns {
		expr := "(?i)" + strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, ".*")
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

func anyKeywordContains(keywords []string, value string) bool {
	lower := strings.ToLower(value)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
