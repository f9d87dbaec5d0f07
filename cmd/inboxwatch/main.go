// Command inboxwatch runs one poll pass against a message source: it loads
// the watch registry, fetches candidate messages, files matches into the
// daily log and the task inbox, and advances the ledger cursor. It is meant
// to be invoked periodically by an external scheduler that never overlaps
// runs.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inboxwatch/internal/archive"
	"inboxwatch/internal/config"
	"inboxwatch/internal/ledger"
	"inboxwatch/internal/notify"
	"inboxwatch/internal/poller"
	"inboxwatch/internal/signals"
	"inboxwatch/internal/sink"
	"inboxwatch/internal/source/gmail"
	"inboxwatch/internal/source/slack"
	"inboxwatch/internal/watch"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "inboxwatch",
		Short:         "Watch mail and chat for messages that need action",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config",
		os.Getenv("INBOXWATCH_CONFIG"), "path to YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "gmail",
			Short: "Poll Gmail for watched threads, senders, and subjects",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runGmail(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "slack",
			Short: "Poll Slack for unread DMs, mentions, and task signals",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSlack(cmd.Context(), cfgPath)
			},
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("run aborted", "error", err)
		os.Exit(1)
	}
}

func runGmail(ctx context.Context, cfgPath string) error {
	cfg, log, err := setup(cfgPath)
	if err != nil {
		return err
	}

	watches, err := watch.LoadRegistry(cfg.RegistryPath())
	if err != nil {
		return err
	}
	if len(watches) == 0 {
		log.Info("no watches configured", "registry", cfg.RegistryPath())
		return nil
	}

	src := gmail.New(httpClient(), gmail.StaticToken(cfg.GmailToken),
		watches, cfg.FetchLimit, cfg.RetryMax)

	p := poller.New(poller.Config{
		Source:     src,
		Watches:    watches,
		Section:    sink.SectionEmail,
		Sink:       sink.NewWriter(cfg.DailyDir(), cfg.TaskInboxPath()),
		Notifier:   newNotifier(cfg, log),
		Archive:    openArchive(cfg, log),
		LedgerPath: cfg.LedgerPath(src.Name()),
		SeenCap:    cfg.SeenCap,
		Log:        log,
	})
	return p.Run(ctx)
}

func runSlack(ctx context.Context, cfgPath string) error {
	cfg, log, err := setup(cfgPath)
	if err != nil {
		return err
	}

	ledgerPath := cfg.LedgerPath("slack")
	st := ledger.Load(ledgerPath)
	src := slack.New(httpClient(), cfg.SlackToken, st, cfg.RetryMax, log)

	p := poller.New(poller.Config{
		Source:     src,
		Classify:   signals.Classify,
		LogAll:     true,
		Section:    sink.SectionChat,
		Sink:       sink.NewWriter(cfg.DailyDir(), cfg.TaskInboxPath()),
		Notifier:   newNotifier(cfg, log),
		Archive:    openArchive(cfg, log),
		LedgerPath: ledgerPath,
		State:      st,
		SeenCap:    cfg.SeenCap,
		Log:        log,
	})
	return p.Run(ctx)
}

func setup(cfgPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func newNotifier(cfg *config.Config, log *slog.Logger) poller.Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		return notify.Discard{}
	}
	n, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
	if err != nil {
		log.Warn("telegram notifier unavailable", "error", err)
		return notify.Discard{}
	}
	return n
}

func openArchive(cfg *config.Config, log *slog.Logger) poller.Archive {
	if cfg.ArchivePath == "" {
		return nil
	}
	if dir := filepath.Dir(cfg.ArchivePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Warn("archive directory unavailable", "path", dir, "error", err)
			return nil
		}
	}
	a, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		log.Warn("archive unavailable", "path", cfg.ArchivePath, "error", err)
		return nil
	}
	return a
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
