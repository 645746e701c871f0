// Package bot answers chat commands: subscription management and on-demand
// listings of the watched feed.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"feedwatch/internal/engine"
	"feedwatch/internal/feed"
	"feedwatch/internal/notifier"
	kit "feedwatch/internal/transport"
	logx "feedwatch/pkg/logx"
)

// Engine is the part of *engine.Engine the commands use.
type Engine interface {
	Register(ctx context.Context, recipientID, displayName string) (bool, error)
	Unregister(ctx context.Context, recipientID string) (bool, error)
	CurrentItems(ctx context.Context) (engine.Items, error)
	ItemsWithin(ctx context.Context, window time.Duration) (engine.Items, error)
	State(ctx context.Context) (feed.State, error)
	LastCycle() engine.CycleResult
}

type Config struct {
	// OwnerUserIDs may use /status.
	OwnerUserIDs []int64
	// Handlers running at once.
	Concurrency int
	// Upper bound for one command, including the fetch.
	Timeout time.Duration
}

type Bot struct {
	eng     Engine
	adapter kit.Adapter
	log     logx.Logger
	owners  atomic.Pointer[map[int64]bool]
	limit   int
	timeout time.Duration
	now     func() time.Time
}

func New(cfg Config, eng Engine, adapter kit.Adapter, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	b := &Bot{
		eng:     eng,
		adapter: adapter,
		log:     log,
		limit:   cfg.Concurrency,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	b.SetOwners(cfg.OwnerUserIDs)
	return b
}

// SetOwners replaces the users allowed to run owner-only commands.
func (b *Bot) SetOwners(ids []int64) {
	owners := make(map[int64]bool, len(ids))
	for _, id := range ids {
		owners[id] = true
	}
	b.owners.Store(&owners)
}

func (b *Bot) isOwner(id int64) bool {
	p := b.owners.Load()
	return p != nil && (*p)[id]
}

// Commands is the menu published to chat clients.
func (b *Bot) Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "подписаться на уведомления"},
		{Command: "news", Description: "последние новости"},
		{Command: "last24", Description: "новости за последние 24 часа"},
		{Command: "stop", Description: "отписаться"},
		{Command: "help", Description: "список команд"},
	}
}

// Run handles updates until ctx is done or the channel closes, then waits
// for running handlers.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	var g errgroup.Group
	g.SetLimit(b.limit)
	defer func() { _ = g.Wait() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			msg := up.Message
			g.Go(func() error {
				b.Handle(ctx, msg)
				return nil
			})
		}
	}
}

// parseCommand returns the command name without slash and bot suffix, or ""
// for ordinary text.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	name, args, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// Handle processes one message.
func (b *Bot) Handle(ctx context.Context, msg *kit.Message) {
	cmd, _ := parseCommand(msg.Text)
	if cmd == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	log := b.log.With(logx.String("cmd", cmd), logx.Int64("chat", msg.ChatID), logx.Int64("user", msg.FromID))
	start := time.Now()

	var reply string
	opt := &kit.SendOptions{ParseMode: "Markdown", DisablePreview: true}
	switch cmd {
	case "start":
		reply = b.start(ctx, log, msg)
	case "stop":
		reply = b.stop(ctx, log, msg)
	case "news":
		reply = b.news(ctx, log)
	case "last24":
		reply = b.last24(ctx, log)
	case "help":
		reply = helpText
	case "status":
		if !b.isOwner(msg.FromID) {
			return
		}
		reply = b.status(ctx)
		opt.ParseMode = ""
	default:
		return
	}

	if _, err := b.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, reply, opt); err != nil {
		log.Warn("reply failed", logx.Err(err))
		return
	}
	log.Debug("command handled", logx.Duration("took", time.Since(start)))
}

func recipientID(msg *kit.Message) string { return strconv.FormatInt(msg.ChatID, 10) }

const helpText = "Команды:\n" +
	"/news - показать последние новости\n" +
	"/last24 - показать новости за последние 24 часа\n" +
	"/stop - отписаться от уведомлений\n" +
	"/start - подписаться снова"

func (b *Bot) start(ctx context.Context, log logx.Logger, msg *kit.Message) string {
	created, err := b.eng.Register(ctx, recipientID(msg), msg.FromName)
	if err != nil {
		log.Error("register failed", logx.Err(err))
		return "⚠️ Не удалось оформить подписку. Попробуйте позже."
	}
	if created {
		log.Info("recipient registered", logx.String("name", msg.FromName))
	}
	first, _, _ := strings.Cut(msg.FromName, " ")
	if first == "" {
		first = "друг"
	}
	return fmt.Sprintf("Привет, %s!\n", notifier.EscapeMarkdown(first)) +
		"Я буду присылать тебе уведомления о новых новостях с сайта.\n\n" +
		"Используй команды:\n" +
		"/news - показать последние новости\n" +
		"/last24 - показать новости за последние 24 часа"
}

func (b *Bot) stop(ctx context.Context, log logx.Logger, msg *kit.Message) string {
	removed, err := b.eng.Unregister(ctx, recipientID(msg))
	if err != nil {
		log.Error("unregister failed", logx.Err(err))
		return "⚠️ Не удалось отменить подписку. Попробуйте позже."
	}
	if !removed {
		return "Вы не были подписаны. /start - подписаться."
	}
	log.Info("recipient unregistered")
	return "Подписка отменена. /start - подписаться снова."
}

func (b *Bot) news(ctx context.Context, log logx.Logger) string {
	res, err := b.eng.CurrentItems(ctx)
	if err != nil {
		log.Warn("listing failed", logx.Err(err))
		return "Не удалось получить новости. Попробуйте позже."
	}
	if len(res.Items) == 0 {
		return "Новостей нет"
	}
	return withCacheNote(notifier.FormatList("📰 *Последние новости:*", res.Items), res)
}

func (b *Bot) last24(ctx context.Context, log logx.Logger) string {
	res, err := b.eng.ItemsWithin(ctx, 24*time.Hour)
	if err != nil {
		log.Warn("listing failed", logx.Err(err))
		return "Не удалось получить новости. Попробуйте позже."
	}
	if len(res.Items) == 0 {
		return withCacheNote("За последние 24 часа новостей нет.", res)
	}
	return withCacheNote(notifier.FormatList("📰 *Новости за 24 часа:*", res.Items), res)
}

func withCacheNote(text string, res engine.Items) string {
	if !res.Cached {
		return text
	}
	return text + "\n_Сайт сейчас недоступен, показан сохранённый список._"
}

func (b *Bot) status(ctx context.Context) string {
	var sb strings.Builder
	st, err := b.eng.State(ctx)
	if err != nil {
		fmt.Fprintf(&sb, "state: error: %v\n", err)
	} else {
		fmt.Fprintf(&sb, "recipients: %d\nknown items: %d\nfrontier: %s\n", len(st.Recipients), len(st.KnownItems), st.LastSeenID)
	}
	last := b.eng.LastCycle()
	if last.ID == "" {
		sb.WriteString("last cycle: none yet")
		return sb.String()
	}
	sent, failed := last.Report.Totals()
	fmt.Fprintf(&sb, "last cycle: %s (%s ago, took %s)\nnew: %d sent: %d failed: %d",
		last.Outcome,
		b.now().Sub(last.FinishedAt).Truncate(time.Second),
		last.Duration().Truncate(time.Millisecond),
		len(last.NewItems), sent, failed,
	)
	if last.Err != nil {
		fmt.Fprintf(&sb, "\nerror: %v", last.Err)
	}
	return sb.String()
}
