package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram implements Transport on top of the Bot API. One instance serves
// every conversation; the underlying client is safe for concurrent use.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	client *http.Client
	logger *slog.Logger
}

func NewTelegram(log *slog.Logger, bot *tgbotapi.BotAPI) *Telegram {
	if log == nil {
		log = slog.Default()
	}
	return &Telegram{
		bot:    bot,
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: log.With(slog.String("service", "telegram-transport")),
	}
}

func chatID(conversationID string) (int64, error) {
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("conversation id %q is not a chat id: %w", conversationID, err)
	}
	return id, nil
}

func (t *Telegram) ResolveLocator(ctx context.Context, itemRef string) (string, error) {
	url, err := t.bot.GetFileDirectURL(itemRef)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", itemRef, err)
	}
	return url, nil
}

func (t *Telegram) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

func (t *Telegram) SendArchive(ctx context.Context, conversationID, path string) error {
	id, err := chatID(conversationID)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FilePath(path))
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("send archive to %s: %w", conversationID, err)
	}
	return nil
}

func (t *Telegram) SendFile(ctx context.Context, conversationID, path string) error {
	id, err := chatID(conversationID)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FilePath(path))
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("send file to %s: %w", conversationID, err)
	}
	return nil
}

func (t *Telegram) Notify(ctx context.Context, conversationID, text string) error {
	id, err := chatID(conversationID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("notify failed",
			slog.String("conversation", conversationID),
			slog.Any("error", err))
		return fmt.Errorf("notify %s: %w", conversationID, err)
	}
	return nil
}

func (t *Telegram) StickerSet(ctx context.Context, name string) (StickerSet, error) {
	set, err := t.bot.GetStickerSet(tgbotapi.GetStickerSetConfig{Name: name})
	if err != nil {
		return StickerSet{}, fmt.Errorf("get sticker set %s: %w", name, err)
	}
	items := make([]string, 0, len(set.Stickers))
	for _, sticker := range set.Stickers {
		items = append(items, sticker.FileID)
	}
	return StickerSet{Name: set.Name, Title: set.Title, Items: items}, nil
}
