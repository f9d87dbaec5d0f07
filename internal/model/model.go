// Package model defines the domain types used across the application.
package model

import "time"

// Action defines what happens to the task inbox when a watch matches.
type Action string

// Supported watch actions.
const (
	ActionUpdate Action = "update"
	ActionCreate Action = "create"
)

// Watch represents a declared interest rule from the watch registry.
//
// A watch with neither ThreadID, FromPatterns, nor SubjectKeywords never
// matches anything; the evaluator treats it as an explicit non-match rather
// than a catch-all.
type Watch struct {
	Title           string
	ThreadID        string
	FromPatterns    []string
	SubjectKeywords []string
	TaskRef         string
	Action          Action
	AddedOn         string
	SnoozedUntil    string
}

// IncomingMessage is the normalized view of one source message.
// Missing subject or thread are valid and represented as empty strings.
type IncomingMessage struct {
	ID          string
	From        string
	Subject     string
	ThreadID    string
	BodyPreview string
	ReceivedAt  time.Time

	// Chat-source extras, empty for mail.
	Channel string
	Mention bool
}

// MatchResult pairs a message with the first watch it satisfied.
type MatchResult struct {
	Watch      Watch
	Message    IncomingMessage
	SenderName string
}
