// Package janitor sweeps the storage root on a cron schedule and removes
// leftovers a crashed finish attempt could not clean up itself: working
// trees and archives with no live session record, and locked records whose
// run started long enough ago that its pipeline cannot still be running.
package janitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stickerpress/stickerpress/internal/session"
	"github.com/stickerpress/stickerpress/internal/workdir"
)

// Janitor runs periodic sweeps. It never touches a conversation whose
// record is still unlocked or recently locked.
type Janitor struct {
	store    *session.Store
	dirs     *workdir.Manager
	spec     string
	staleAge time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
}

func New(log *slog.Logger, store *session.Store, dirs *workdir.Manager, spec string, staleAge time.Duration) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	if spec == "" {
		spec = "@every 30m"
	}
	if staleAge <= 0 {
		staleAge = 2 * time.Hour
	}
	return &Janitor{
		store:    store,
		dirs:     dirs,
		spec:     spec,
		staleAge: staleAge,
		logger:   log.With(slog.String("service", "janitor")),
	}
}

// Start registers the sweep with the cron runner and starts it.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		j.Sweep(ctx)
	}); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("janitor started", slog.String("spec", j.spec))
	return nil
}

// Stop halts the cron runner and waits for an in-flight sweep.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep walks the storage root once. Failures are logged per entry so one
// bad directory does not stop the rest of the sweep.
func (j *Janitor) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(j.dirs.Root())
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("sweep read root failed", slog.Any("error", err))
		}
		return
	}
	removed := 0
	for _, entry := range entries {
		id, kind := classify(entry)
		if id == "" {
			continue
		}
		live, err := j.conversationLive(ctx, id)
		if err != nil {
			j.logger.Error("sweep load record failed",
				slog.String("conversation", id),
				slog.Any("error", err))
			continue
		}
		if live {
			continue
		}
		path := filepath.Join(j.dirs.Root(), entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Error("sweep remove failed",
				slog.String("path", path),
				slog.Any("error", err))
			continue
		}
		removed++
		j.logger.Info("removed orphaned "+kind, slog.String("conversation", id))
	}
	if removed > 0 {
		j.logger.Info("sweep finished", slog.Int("removed", removed))
	}
}

// conversationLive reports whether the id still owns its on-disk state. A
// locked record past the stale age is treated as dead and its record is
// dropped too, so the chat can start a fresh task.
func (j *Janitor) conversationLive(ctx context.Context, id string) (bool, error) {
	record, err := j.store.Load(ctx, id)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	if record.Locked && time.Since(record.StartedAt) > j.staleAge {
		if err := j.store.Remove(ctx, id); err != nil {
			return false, err
		}
		j.logger.Warn("dropped stale locked record", slog.String("conversation", id))
		return false, nil
	}
	return true, nil
}

// classify maps a storage-root entry to its conversation id: either a
// working tree directory or a <id>.zip archive left behind mid-delivery.
func classify(entry os.DirEntry) (id, kind string) {
	name := entry.Name()
	if entry.IsDir() {
		return name, "working tree"
	}
	if strings.HasSuffix(name, ".zip") {
		return strings.TrimSuffix(name, ".zip"), "archive"
	}
	return "", ""
}
