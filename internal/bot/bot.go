// Package bot wires Telegram updates to the collection controller and the
// pipeline: commands (/start, /newpack, /finish, /lang, /purge), sticker
// messages, and sticker-set links, private chats only.
package bot

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stickerpress/stickerpress/internal/i18n"
	"github.com/stickerpress/stickerpress/internal/pipeline"
	"github.com/stickerpress/stickerpress/internal/profile"
	"github.com/stickerpress/stickerpress/internal/session"
	"github.com/stickerpress/stickerpress/internal/transport"
	"github.com/stickerpress/stickerpress/internal/workdir"
)

// Options carries the collaborators and policy knobs the bot needs.
type Options struct {
	Transport       transport.Transport
	Controller      *session.Controller
	Store           *session.Store
	Orchestrator    *pipeline.Orchestrator
	Profiles        *profile.Store
	Bundle          *i18n.Bundle
	Dirs            *workdir.Manager
	StickerSources  []string
	AdminUsername   string
	PipelineTimeout time.Duration
}

// Bot is the inbound message dispatcher.
type Bot struct {
	api     *tgbotapi.BotAPI
	opts    Options
	logger  *slog.Logger
	rootCtx context.Context
}

func New(log *slog.Logger, api *tgbotapi.BotAPI, opts Options) *Bot {
	if log == nil {
		log = slog.Default()
	}
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = 10 * time.Minute
	}
	return &Bot{
		api:    api,
		opts:   opts,
		logger: log.With(slog.String("service", "bot")),
	}
}

// Run long-polls for updates until ctx is cancelled. Each update is handled
// on its own goroutine; per-conversation ordering is enforced by the
// controller's keyed mutex, not by the dispatch order.
func (b *Bot) Run(ctx context.Context) error {
	b.rootCtx = ctx
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := b.api.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			// Drain so the library's polling goroutine can exit; an
			// abandoned long-poll keeps the getUpdates session alive.
			for range updates {
			}
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			if update.Message.Chat.Type != "private" {
				continue
			}
			msg := update.Message
			go func() {
				if err := b.handleMessage(ctx, msg); err != nil {
					b.logger.Error("handle message failed",
						slog.Int64("chat", msg.Chat.ID),
						slog.Any("error", err))
				}
			}()
		}
	}
}

// pipelineContext bounds one finish attempt's wall time, detached from the
// triggering update so an early return does not cancel the run.
func (b *Bot) pipelineContext() (context.Context, context.CancelFunc) {
	base := b.rootCtx
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, b.opts.PipelineTimeout)
}
