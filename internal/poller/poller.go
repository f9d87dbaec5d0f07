// Package poller ties the registry, evaluator, ledger, and sinks together
// for one poll pass: load ledger → fetch → evaluate → write → persist ledger.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"inboxwatch/internal/errs"
	"inboxwatch/internal/ledger"
	"inboxwatch/internal/model"
	"inboxwatch/internal/sink"
	"inboxwatch/internal/watch"
)

// Source fetches candidate messages newer than the cursor. Implementations
// own the provider query language and pagination; the poller only hands them
// the window lower bound.
type Source interface {
	Name() string
	Fetch(ctx context.Context, since time.Time) ([]model.IncomingMessage, error)
}

// Notifier delivers fire-and-forget match notifications. Delivery failures
// must be swallowed by the implementation; the run never blocks on them.
type Notifier interface {
	Notify(title, message string)
}

// Archive records match history best-effort. A nil Archive disables it.
type Archive interface {
	RecordMatch(ctx context.Context, m ArchivedMatch) error
	RecordRun(ctx context.Context, r RunSummary) error
}

// ArchivedMatch is one sink write mirrored into the archive.
type ArchivedMatch struct {
	RunID      string
	Source     string
	WatchTitle string
	MessageID  string
	Sender     string
	Subject    string
}

// RunSummary describes one completed poll pass.
type RunSummary struct {
	ID      string
	Source  string
	Fetched int
	Matched int
	Written int
}

// Config wires one Poller.
type Config struct {
	Source   Source
	Watches  []model.Watch
	Classify func(string) bool
	// LogAll mirrors every fetched message into the daily log, not just
	// matches (the chat source's behavior).
	LogAll     bool
	Section    string
	Sink       *sink.Writer
	Notifier   Notifier
	Archive    Archive
	LedgerPath string
	// State, when set, is the preloaded ledger state shared with the
	// source (the chat source reads and fills its name cache through it).
	// When nil the poller loads it from LedgerPath.
	State   *ledger.State
	SeenCap int
	Log     *slog.Logger
}

// Poller runs one poll pass per invocation. Invocations must not overlap;
// single-flight enforcement is a deployment invariant, not provided here.
type Poller struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// New creates a Poller.
func New(cfg Config) *Poller {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Poller{cfg: cfg, log: log, now: time.Now}
}

// Run executes one pass. Fetch, configuration, and ledger-persist failures
// abort the run and leave the previous cursor intact; per-message and
// per-sink failures are logged and skipped.
func (p *Poller) Run(ctx context.Context) error {
	st := p.cfg.State
	if st == nil {
		st = ledger.Load(p.cfg.LedgerPath)
	}
	since := time.Unix(st.CursorTS, 0)

	msgs, err := p.cfg.Source.Fetch(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", p.cfg.Source.Name(), err)
	}

	runID := uuid.NewString()
	now := p.now()
	dt := now.Format("2006-01-02 15:04")

	var newSeen []string
	var matched, written, skipped int
	dailyOK, taskOK := true, true

	for _, m := range msgs {
		if m.ID == "" {
			skipped++
			p.log.Warn("skipping malformed message", "source", p.cfg.Source.Name(),
				"error", errs.New(errs.KindMessageShape, "missing message id"))
			continue
		}
		if st.Seen(m.ID) {
			continue
		}
		newSeen = append(newSeen, m.ID)

		if p.cfg.LogAll && dailyOK {
			ok, err := p.cfg.Sink.AppendDaily(p.cfg.Section, sink.Tag(m.ID), sink.FormatDailyChat(m))
			if err != nil {
				dailyOK = false
				p.log.Warn("daily log unwritable, disabling for this run", "error", err)
			} else if ok {
				written++
			}
		}

		if w, ok := watch.FirstMatch(p.cfg.Watches, m); ok {
			matched++
			res := model.MatchResult{Watch: w, Message: m, SenderName: displayName(m.From)}
			written += p.writeMatch(ctx, res, runID, dt, &dailyOK, &taskOK)
			p.notify(res)
			continue
		}

		if p.cfg.Classify != nil && p.cfg.Classify(m.BodyPreview) {
			matched++
			if taskOK {
				ok, err := p.cfg.Sink.AppendTask(sink.Tag(m.ID), sink.FormatChatTaskEntry(m, dt))
				if err != nil {
					taskOK = false
					p.log.Warn("task inbox unwritable, disabling for this run", "error", err)
				} else if ok {
					written++
				}
			}
			p.archiveMatch(ctx, ArchivedMatch{
				RunID: runID, Source: p.cfg.Source.Name(), WatchTitle: "task-signal",
				MessageID: m.ID, Sender: m.From, Subject: m.Channel,
			})
		}
	}

	st.Advance(now.Unix(), newSeen, p.cfg.SeenCap)
	if err := ledger.Persist(p.cfg.LedgerPath, st); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}

	p.log.Info("run complete", "source", p.cfg.Source.Name(),
		"fetched", len(msgs), "matched", matched, "written", written, "skipped", skipped)

	if p.cfg.Archive != nil {
		summary := RunSummary{ID: runID, Source: p.cfg.Source.Name(),
			Fetched: len(msgs), Matched: matched, Written: written}
		if err := p.cfg.Archive.RecordRun(ctx, summary); err != nil {
			p.log.Warn("archive run summary", "error", err)
		}
	}
	return nil
}

// writeMatch appends a watch match to both sinks and the archive, honoring
// per-sink disable flags. Returns the number of writes that happened.
func (p *Poller) writeMatch(ctx context.Context, res model.MatchResult, runID, dt string, dailyOK, taskOK *bool) int {
	written := 0
	m := res.Message

	if *taskOK {
		ok, err := p.cfg.Sink.AppendTask(sink.Tag(m.ID), sink.FormatTaskEntry(res, dt))
		if err != nil {
			*taskOK = false
			p.log.Warn("task inbox unwritable, disabling for this run", "error", err)
		} else if ok {
			written++
		}
	}
	if *dailyOK && !p.cfg.LogAll {
		ok, err := p.cfg.Sink.AppendDaily(p.cfg.Section, sink.Tag(m.ID), sink.FormatDailyMatch(res, dt))
		if err != nil {
			*dailyOK = false
			p.log.Warn("daily log unwritable, disabling for this run", "error", err)
		} else if ok {
			written++
		}
	}

	p.archiveMatch(ctx, ArchivedMatch{
		RunID: runID, Source: p.cfg.Source.Name(), WatchTitle: res.Watch.Title,
		MessageID: m.ID, Sender: m.From, Subject: m.Subject,
	})
	return written
}

func (p *Poller) archiveMatch(ctx context.Context, m ArchivedMatch) {
	if p.cfg.Archive == nil {
		return
	}
	if err := p.cfg.Archive.RecordMatch(ctx, m); err != nil {
		p.log.Warn("archive match", "message_id", m.MessageID, "error", err)
	}
}

func (p *Poller) notify(res model.MatchResult) {
	if p.cfg.Notifier == nil {
		return
	}
	subject := res.Message.Subject
	if r := []rune(subject); len(r) > 80 {
		subject = string(r[:80])
	}
	p.cfg.Notifier.Notify(
		"inboxwatch: "+res.Watch.Title,
		fmt.Sprintf("From: %s\n%s", res.SenderName, subject),
	)
}

// displayName extracts a human-readable sender name from an address header.
// Chat sources already resolve names upstream, so the raw value passes through.
func displayName(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Address
}
