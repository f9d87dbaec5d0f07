// Package signals classifies chat text for action-worthy content.
//
// The corpus is a curated, reviewed table; extending it is a code change,
// not runtime configuration.
package signals

import "regexp"

// Rule is one task-signal pattern with a reviewer-facing label.
type Rule struct {
	Pattern string
	Label   string
}

// Rules lists phrases that suggest a request, complaint, or blocked state.
// Order matters only for which rule a test attributes a hit to; classification
// itself is first-hit boolean.
var Rules = []Rule{
	{`isn'?t working`, "broken"},
	{`not working`, "broken"},
	{`doesn'?t work`, "broken"},
	{`having (a )?problem`, "problem report"},
	{`having (an )?issue`, "problem report"},
	{`can'?t (access|login|log in|connect|open|see|find|get)`, "blocked access"},
	{`(something|this) is broken`, "broken"},
	{`getting (an )?error`, "error report"},
	{`failed?`, "failure"},
	{`help( me)?`, "help request"},
	{`need(s)? (help|access|a|to)`, "need"},
	{`(request|please|can you|could you).{0,40}(help|fix|check|look|update|add|remove|reset|set up|setup|configure)`, "direct request"},
	{`closed (out )?this ticket`, "ticket dispute"},
	{`this (ticket|request) (wasn'?t|was never|hasn'?t been)`, "ticket dispute"},
	{`not (fulfilled|completed|done|resolved)`, "unresolved"},
	{`freshservice\.com/support/tickets/\d+`, "ticket link"},
	{`itwork\d*-\d+`, "ticket number"},
	{`(locked out|no access|lost access|can'?t get in)`, "blocked access"},
	{`not (provisioned|set up|configured)`, "not provisioned"},
	{`waiting (on|for) (you|IT|this)`, "waiting"},
	{`follow.?up`, "follow-up"},
}

var compiled = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(Rules))
	for i, r := range Rules {
		res[i] = regexp.MustCompile("(?i)" + r.Pattern)
	}
	return res
}()

// Classify reports whether text contains any task signal.
// The specific rule hit is not retained; this is a boolean trigger.
func Classify(text string) bool {
	for _, re := range compiled {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// MatchRule returns the label of the first rule text hits, for testing the
// corpus rule by rule.
func MatchRule(text string) (string, bool) {
	for i, re := range compiled {
		if re.MatchString(text) {
			return Rules[i].Label, true
		}
	}
	return "", false
}
