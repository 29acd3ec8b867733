// Package pipeline drives a locked session through the finish attempt:
// resolve -> download -> convert -> archive -> deliver -> cleanup. Stages are
// strictly ordered with a barrier between them; downloads and conversions fan
// out with bounded concurrency and per-item failure tolerance.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stickerpress/stickerpress/internal/archive"
	"github.com/stickerpress/stickerpress/internal/i18n"
	"github.com/stickerpress/stickerpress/internal/session"
	"github.com/stickerpress/stickerpress/internal/transcode"
	"github.com/stickerpress/stickerpress/internal/transport"
	"github.com/stickerpress/stickerpress/internal/workdir"
)

var (
	// ErrNothingConverted aborts the attempt when every item was dropped
	// before the archive stage.
	ErrNothingConverted = errors.New("pipeline: no converted files")
	// ErrEmptyArchive marks a zero-entry zip, an internal failure distinct
	// from ErrNothingConverted.
	ErrEmptyArchive = errors.New("pipeline: archive has no entries")
	// ErrUnsupportedFormat marks a source file whose extension has no
	// conversion rule.
	ErrUnsupportedFormat = errors.New("pipeline: unsupported source format")
)

// Orchestrator owns a locked session from hand-off to terminal outcome.
type Orchestrator struct {
	store      *session.Store
	dirs       *workdir.Manager
	transport  transport.Transport
	transcoder transcode.Transcoder
	maxWorkers int
	zipComment string
	logger     *slog.Logger
}

func NewOrchestrator(
	log *slog.Logger,
	store *session.Store,
	dirs *workdir.Manager,
	tp transport.Transport,
	tc transcode.Transcoder,
	maxWorkers int,
	zipComment string,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Orchestrator{
		store:      store,
		dirs:       dirs,
		transport:  tp,
		transcoder: tc,
		maxWorkers: maxWorkers,
		zipComment: zipComment,
		logger:     log.With(slog.String("service", "pipeline")),
	}
}

type locator struct {
	ref string
	url string
}

// Run executes one finish attempt for a locked snapshot. Cleanup (record
// removal plus working tree deletion) happens on every exit path. The caller
// bounds wall time through ctx.
func (o *Orchestrator) Run(ctx context.Context, snap *session.Session, pack i18n.Pack) (err error) {
	if snap == nil || !snap.Locked {
		panic("pipeline: Run invoked on a session that is not locked")
	}
	id := snap.ConversationID
	defer o.cleanup(ctx, id)

	dirs, err := o.dirs.Prepare(id)
	if err != nil {
		o.notify(ctx, id, pack.Get("oops"))
		return fmt.Errorf("prepare workdir: %w", err)
	}

	o.notify(ctx, id, pack.Get("progress.downloading"))
	locators, err := o.resolve(ctx, snap.Items)
	if err != nil {
		o.notify(ctx, id, pack.Get("error.resolve"))
		return err
	}

	sources := o.download(ctx, id, dirs, locators, pack)
	if err := o.persistSources(ctx, id, sources); err != nil {
		o.notify(ctx, id, pack.Get("oops"))
		return err
	}

	o.notify(ctx, id, pack.Get("progress.converting"))
	converted := o.convert(ctx, id, dirs, sources, pack)
	if err := o.persistConverted(ctx, id, converted); err != nil {
		o.notify(ctx, id, pack.Get("oops"))
		return err
	}
	if len(converted) == 0 {
		o.notify(ctx, id, pack.Get("error.nothing_converted"))
		return ErrNothingConverted
	}

	o.notify(ctx, id, pack.Get("progress.packaging"))
	zipPath := dirs.ArchivePath(id)
	if err := archive.WriteZip(zipPath, converted, o.zipComment); err != nil {
		o.notify(ctx, id, pack.Get("oops"))
		return fmt.Errorf("write archive: %w", err)
	}
	entries, err := archive.CountEntries(zipPath)
	if err != nil {
		o.notify(ctx, id, pack.Get("oops"))
		return fmt.Errorf("inspect archive: %w", err)
	}
	if entries == 0 {
		o.logger.Error("archive came out empty", slog.String("conversation", id))
		o.notify(ctx, id, pack.Get("sticker.empty_archive"))
		return ErrEmptyArchive
	}

	o.notify(ctx, id, pack.Get("progress.sending"))
	if err := o.transport.SendArchive(ctx, id, zipPath); err != nil {
		o.notify(ctx, id, pack.Get("oops"))
		return fmt.Errorf("deliver archive: %w", err)
	}
	o.logger.Info("archive delivered",
		slog.String("conversation", id),
		slog.Int("entries", entries))
	return nil
}

// RunDirect converts a single sticker outside any session: used when a user
// sends a sticker while idle. The working tree is still torn down on every
// exit path; there is no session record to remove.
func (o *Orchestrator) RunDirect(ctx context.Context, conversationID, ref string, pack i18n.Pack) (err error) {
	id := conversationID
	defer func() {
		if derr := o.dirs.Destroy(id); derr != nil {
			o.logger.Error("direct cleanup failed", slog.String("conversation", id), slog.Any("error", derr))
		}
	}()

	dirs, err := o.dirs.Prepare(id)
	if err != nil {
		o.notify(ctx, id, pack.Get("oops"))
		return fmt.Errorf("prepare workdir: %w", err)
	}
	locators, err := o.resolve(ctx, []string{ref})
	if err != nil {
		o.notify(ctx, id, pack.Get("error.resolve"))
		return err
	}
	source, err := o.downloadOne(ctx, dirs, locators[0])
	if err != nil {
		o.notify(ctx, id, pack.Get("error.download"))
		return err
	}
	converted, err := o.convertOne(ctx, dirs, source)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			o.notify(ctx, id, pack.Get("sticker.unsupported_format"))
		} else {
			o.notify(ctx, id, pack.Get("error.convert"))
		}
		return err
	}
	if err := o.transport.SendFile(ctx, id, converted); err != nil {
		o.notify(ctx, id, pack.Get("oops"))
		return fmt.Errorf("deliver file: %w", err)
	}
	return nil
}

// resolve exchanges every reference for a download URL. Any failure aborts
// the whole attempt: a missing locator would break file count accounting.
func (o *Orchestrator) resolve(ctx context.Context, refs []string) ([]locator, error) {
	locators := make([]locator, len(refs))
	errs := make([]error, len(refs))
	o.forEach(len(refs), func(i int) {
		url, err := o.transport.ResolveLocator(ctx, refs[i])
		if err != nil {
			errs[i] = err
			return
		}
		locators[i] = locator{ref: refs[i], url: url}
	})
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("resolve locator: %w", err)
		}
	}
	return locators, nil
}

// download fetches every locator into the source directory. Failed items are
// dropped after a user notification; the rest continue.
func (o *Orchestrator) download(ctx context.Context, id string, dirs workdir.Dirs, locators []locator, pack i18n.Pack) []string {
	paths := make([]string, len(locators))
	o.forEach(len(locators), func(i int) {
		dest, err := o.downloadOne(ctx, dirs, locators[i])
		if err != nil {
			o.logger.Error("download failed",
				slog.String("conversation", id),
				slog.String("ref", locators[i].ref),
				slog.Any("error", err))
			o.notify(ctx, id, pack.Get("error.download"))
			return
		}
		paths[i] = dest
	})
	return compact(paths)
}

func (o *Orchestrator) downloadOne(ctx context.Context, dirs workdir.Dirs, loc locator) (string, error) {
	body, err := o.transport.Fetch(ctx, loc.url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	dest := filepath.Join(dirs.Source, destName(loc.url))
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	head := make([]byte, 0, 12)
	headReader := io.TeeReader(io.LimitReader(body, 12), (*sliceWriter)(&head))
	if _, err := io.Copy(out, io.MultiReader(headReader, body)); err != nil {
		out.Close()
		os.Remove(dest)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", err
	}
	// No extension in the remote name: infer one from the leading bytes.
	if filepath.Ext(dest) == "" {
		renamed := dest + inferExtension(head)
		if err := os.Rename(dest, renamed); err != nil {
			os.Remove(dest)
			return "", err
		}
		dest = renamed
	}
	return dest, nil
}

// convert transforms every source file into the converted directory,
// dispatching on the source extension. Per-item failures are dropped,
// mirroring the download stage.
func (o *Orchestrator) convert(ctx context.Context, id string, dirs workdir.Dirs, sources []string, pack i18n.Pack) []string {
	paths := make([]string, len(sources))
	o.forEach(len(sources), func(i int) {
		dest, err := o.convertOne(ctx, dirs, sources[i])
		if err != nil {
			o.logger.Error("convert failed",
				slog.String("conversation", id),
				slog.String("source", sources[i]),
				slog.Any("error", err))
			if errors.Is(err, ErrUnsupportedFormat) {
				o.notify(ctx, id, pack.Get("sticker.unsupported_format"))
			} else {
				o.notify(ctx, id, pack.Get("error.convert"))
			}
			return
		}
		paths[i] = dest
	})
	return compact(paths)
}

func (o *Orchestrator) convertOne(ctx context.Context, dirs workdir.Dirs, source string) (string, error) {
	base := filepath.Base(source)
	switch strings.ToLower(filepath.Ext(source)) {
	case ".webp", ".png", ".jpg", ".jpeg":
		dest := filepath.Join(dirs.Converted, base)
		if err := copyFile(source, dest); err != nil {
			return "", err
		}
		return dest, nil
	case ".webm":
		dest := filepath.Join(dirs.Converted, strings.TrimSuffix(base, filepath.Ext(base))+".gif")
		if err := o.transcoder.Convert(ctx, source, dest); err != nil {
			return "", err
		}
		return dest, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, base)
	}
}

func (o *Orchestrator) persistSources(ctx context.Context, id string, paths []string) error {
	current, err := o.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("session %s vanished during pipeline", id)
	}
	for _, p := range paths {
		current.AddSourcePath(p)
	}
	return o.store.Save(ctx, current)
}

func (o *Orchestrator) persistConverted(ctx context.Context, id string, paths []string) error {
	current, err := o.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("session %s vanished during pipeline", id)
	}
	for _, p := range paths {
		current.AddConvertedPath(p)
	}
	return o.store.Save(ctx, current)
}

// cleanup removes the session record and the working tree. It runs on every
// terminal transition; failures are logged and never resurrect the session.
func (o *Orchestrator) cleanup(ctx context.Context, id string) {
	cleanupCtx := context.WithoutCancel(ctx)
	if err := o.store.Remove(cleanupCtx, id); err != nil {
		o.logger.Error("session record cleanup failed",
			slog.String("conversation", id),
			slog.Any("error", err))
	}
	if err := o.dirs.Destroy(id); err != nil {
		o.logger.Error("working tree cleanup failed",
			slog.String("conversation", id),
			slog.Any("error", err))
	}
	o.logger.Info("cleanup finished", slog.String("conversation", id))
}

// forEach runs fn for every index with at most maxWorkers in flight and
// joins before returning.
func (o *Orchestrator) forEach(n int, fn func(i int)) {
	sem := make(chan struct{}, o.maxWorkers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func (o *Orchestrator) notify(ctx context.Context, id, text string) {
	if err := o.transport.Notify(ctx, id, text); err != nil {
		o.logger.Warn("notify failed", slog.String("conversation", id), slog.Any("error", err))
	}
}

func destName(rawURL string) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "." || base == "/" {
		base = uuid.NewString()
	}
	return base
}

// inferExtension guesses a sticker format from the file's leading bytes.
// Telegram stickers are webp (RIFF container) or webm (EBML container); webp
// is the default when neither signature matches.
func inferExtension(head []byte) string {
	if len(head) >= 4 && bytes.Equal(head[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		return ".webm"
	}
	return ".webp"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func compact(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type sliceWriter []byte

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
