package bot

import (
	"context"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stickerpress/stickerpress/internal/i18n"
	"github.com/stickerpress/stickerpress/internal/session"
)

func conversationID(msg *tgbotapi.Message) string {
	return strconv.FormatInt(msg.Chat.ID, 10)
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	id := conversationID(msg)
	prof, err := b.opts.Profiles.Ensure(ctx, id)
	if err != nil {
		return err
	}
	pack := b.opts.Bundle.Pack(prof.Lang)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			return b.opts.Transport.Notify(ctx, id, pack.Get("start"))
		case "newpack":
			return b.handleNewPack(ctx, id, msg, pack)
		case "finish":
			return b.handleFinish(ctx, id, pack)
		case "lang":
			return b.handleLang(ctx, id, msg, pack)
		case "purge":
			return b.handlePurge(ctx, id, msg, pack)
		default:
			return b.opts.Transport.Notify(ctx, id, pack.Get("start"))
		}
	}

	if msg.Sticker != nil {
		return b.handleSticker(ctx, id, msg.Sticker.FileID, pack)
	}
	if link, ok := b.findSetLink(msg.Text); ok {
		return b.handleSetLink(ctx, id, link, pack)
	}
	if strings.TrimSpace(msg.Text) != "" {
		return b.opts.Transport.Notify(ctx, id, pack.Get("start"))
	}
	return nil
}

func (b *Bot) handleNewPack(ctx context.Context, id string, msg *tgbotapi.Message, pack i18n.Pack) error {
	startedAt := time.Unix(int64(msg.Date), 0)
	status, err := b.opts.Controller.StartCollection(ctx, id, startedAt)
	if err != nil {
		return b.opts.Transport.Notify(ctx, id, pack.Get("oops"))
	}
	switch status {
	case session.Started:
		max := strconv.Itoa(b.opts.Controller.MaxItems())
		return b.opts.Transport.Notify(ctx, id, pack.Get("newpack.created", "max", max))
	case session.TaskExists:
		return b.opts.Transport.Notify(ctx, id, pack.Get("newpack.task_exists"))
	default:
		return b.opts.Transport.Notify(ctx, id, pack.Get("newpack.task_locked"))
	}
}

func (b *Bot) handleFinish(ctx context.Context, id string, pack i18n.Pack) error {
	result, err := b.opts.Controller.RequestFinish(ctx, id)
	if err != nil {
		return b.opts.Transport.Notify(ctx, id, pack.Get("oops"))
	}
	switch result.Status {
	case session.Handoff:
		b.logger.Info("finish accepted",
			slog.String("conversation", id),
			slog.Int("items", len(result.Snapshot.Items)))
		go b.runPipeline(result.Snapshot, pack)
		return nil
	case session.EmptyTask:
		return b.opts.Transport.Notify(ctx, id, pack.Get("nosticker"))
	case session.AlreadyLocked:
		return b.opts.Transport.Notify(ctx, id, pack.Get("newpack.task_locked"))
	default:
		return b.opts.Transport.Notify(ctx, id, pack.Get("start"))
	}
}

func (b *Bot) runPipeline(snap *session.Session, pack i18n.Pack) {
	ctx, cancel := b.pipelineContext()
	defer cancel()
	if err := b.opts.Orchestrator.Run(ctx, snap, pack); err != nil {
		b.logger.Error("finish attempt failed",
			slog.String("conversation", snap.ConversationID),
			slog.Any("error", err))
	}
}

func (b *Bot) handleSticker(ctx context.Context, id, fileID string, pack i18n.Pack) error {
	result, err := b.opts.Controller.AddItem(ctx, id, fileID)
	if err != nil {
		return b.opts.Transport.Notify(ctx, id, pack.Get("oops"))
	}
	switch result.Status {
	case session.Added:
		if result.Remaining == 0 {
			return b.opts.Transport.Notify(ctx, id, pack.Get("sticker.task_full"))
		}
		remain := strconv.Itoa(result.Remaining)
		return b.opts.Transport.Notify(ctx, id, pack.Get("sticker.saved", "remain", remain))
	case session.Duplicate:
		return b.opts.Transport.Notify(ctx, id, pack.Get("sticker.duplicated"))
	case session.Full:
		return b.opts.Transport.Notify(ctx, id, pack.Get("sticker.task_full"))
	case session.LockedSession:
		return b.opts.Transport.Notify(ctx, id, pack.Get("newpack.task_locked"))
	case session.NoSession:
		// Idle chats get a one-shot conversion instead of a rejection.
		if err := b.opts.Transport.Notify(ctx, id, pack.Get("sticker.direct_started")); err != nil {
			return err
		}
		go b.runDirect(id, fileID, pack)
		return nil
	default:
		return b.opts.Transport.Notify(ctx, id, pack.Get("oops"))
	}
}

func (b *Bot) runDirect(id, fileID string, pack i18n.Pack) {
	ctx, cancel := b.pipelineContext()
	defer cancel()
	if err := b.opts.Orchestrator.RunDirect(ctx, id, fileID, pack); err != nil {
		b.logger.Error("direct conversion failed",
			slog.String("conversation", id),
			slog.Any("error", err))
	}
}

// findSetLink returns the first whitespace-separated token matching a
// configured sticker-set source prefix.
func (b *Bot) findSetLink(text string) (string, bool) {
	for _, token := range strings.Fields(text) {
		for _, prefix := range b.opts.StickerSources {
			if strings.HasPrefix(token, prefix) && len(token) > len(prefix) {
				return token, true
			}
		}
	}
	return "", false
}

func (b *Bot) handleSetLink(ctx context.Context, id, link string, pack i18n.Pack) error {
	setName := path.Base(link)
	if err := b.opts.Transport.Notify(ctx, id, pack.Get("sticker.fetching_set")); err != nil {
		return err
	}
	set, err := b.opts.Transport.StickerSet(ctx, setName)
	if err != nil {
		b.logger.Error("sticker set lookup failed",
			slog.String("conversation", id),
			slog.String("set", setName),
			slog.Any("error", err))
		return b.opts.Transport.Notify(ctx, id, pack.Get("sticker.invalid_set", "set", setName))
	}
	result, err := b.opts.Controller.AddItems(ctx, id, set.Items)
	if err != nil {
		return b.opts.Transport.Notify(ctx, id, pack.Get("oops"))
	}
	switch result.Status {
	case session.Added:
		return b.opts.Transport.Notify(ctx, id, pack.Get("sticker.set_added",
			"count", strconv.Itoa(result.Added),
			"remain", strconv.Itoa(result.Remaining)))
	case session.Exceeds:
		return b.opts.Transport.Notify(ctx, id, pack.Get("newpack.task_exceed",
			"count", strconv.Itoa(result.Count),
			"max", strconv.Itoa(b.opts.Controller.MaxItems())))
	case session.LockedSession:
		return b.opts.Transport.Notify(ctx, id, pack.Get("newpack.task_locked"))
	case session.NoSession:
		return b.opts.Transport.Notify(ctx, id, pack.Get("start"))
	default:
		return b.opts.Transport.Notify(ctx, id, pack.Get("oops"))
	}
}

func (b *Bot) handleLang(ctx context.Context, id string, msg *tgbotapi.Message, pack i18n.Pack) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		var list strings.Builder
		list.WriteByte('\n')
		for _, tag := range b.opts.Bundle.Tags() {
			list.WriteByte('[')
			list.WriteString(tag)
			list.WriteString("]\n")
		}
		return b.opts.Transport.Notify(ctx, id, pack.Get("lang.list", "list", list.String()))
	}
	if !b.opts.Bundle.Has(arg) {
		return b.opts.Transport.Notify(ctx, id, pack.Get("lang.unknown", "lang", arg))
	}
	if err := b.opts.Transport.Notify(ctx, id, pack.Get("lang.changing", "lang", arg)); err != nil {
		return err
	}
	if err := b.opts.Profiles.SetLang(ctx, id, arg); err != nil {
		b.logger.Error("language switch failed", slog.String("conversation", id), slog.Any("error", err))
		return b.opts.Transport.Notify(ctx, id, pack.Get("lang.error"))
	}
	newPack := b.opts.Bundle.Pack(arg)
	return b.opts.Transport.Notify(ctx, id, newPack.Get("lang.changed", "lang", arg))
}

// handlePurge force-removes a stuck session record and its working tree.
// Admin only.
func (b *Bot) handlePurge(ctx context.Context, id string, msg *tgbotapi.Message, pack i18n.Pack) error {
	admin := b.opts.AdminUsername
	if admin == "" || msg.From == nil || msg.From.UserName != admin {
		return nil
	}
	target := strings.TrimSpace(msg.CommandArguments())
	if target == "" {
		return b.opts.Transport.Notify(ctx, id, pack.Get("purge.usage"))
	}
	if err := b.opts.Store.Remove(ctx, target); err != nil {
		b.logger.Error("purge record failed", slog.String("target", target), slog.Any("error", err))
		return b.opts.Transport.Notify(ctx, id, pack.Get("oops"))
	}
	if err := b.opts.Dirs.Destroy(target); err != nil {
		b.logger.Error("purge workdir failed", slog.String("target", target), slog.Any("error", err))
		return b.opts.Transport.Notify(ctx, id, pack.Get("oops"))
	}
	b.logger.Info("session purged", slog.String("target", target), slog.String("by", admin))
	return b.opts.Transport.Notify(ctx, id, pack.Get("purge.done", "chat", target))
}
