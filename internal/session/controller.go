package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StartStatus is the outcome of StartCollection.
type StartStatus int

const (
	// Started means a fresh collecting session was created.
	Started StartStatus = iota
	// TaskExists means a collecting session with items already exists.
	TaskExists
	// TaskLocked means the existing session is locked (or empty but locked):
	// a pipeline owns it.
	TaskLocked
)

// AddStatus is the outcome of AddItem / AddItems.
type AddStatus int

const (
	Added AddStatus = iota
	Duplicate
	Full
	// NoSession means the conversation is idle; the caller must start a
	// collection first.
	NoSession
	// LockedSession means a finish hand-off already happened; writes after
	// the lock fail closed.
	LockedSession
	// Exceeds means a bulk add would push the item count past the limit;
	// nothing was inserted.
	Exceeds
)

// AddResult reports an insertion outcome plus the capacity accounting the
// user-facing reply needs.
type AddResult struct {
	Status    AddStatus
	Added     int
	Count     int
	Remaining int
}

// FinishStatus is the outcome of RequestFinish.
type FinishStatus int

const (
	Handoff FinishStatus = iota
	FinishNoSession
	AlreadyLocked
	EmptyTask
)

// FinishResult carries the locked snapshot handed to the pipeline.
type FinishResult struct {
	Status   FinishStatus
	Snapshot *Session
}

// Controller mutates session records in response to collection events. Every
// operation runs under a per-conversation mutex, so the collecting->locked
// transition is observed atomically by racing adds.
type Controller struct {
	store  *Store
	max    int
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewController(log *slog.Logger, store *Store, maxItems int) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		store:  store,
		max:    maxItems,
		logger: log.With(slog.String("service", "session-controller")),
		locks:  make(map[string]*sync.Mutex),
	}
}

// MaxItems returns the configured capacity bound.
func (c *Controller) MaxItems() int {
	return c.max
}

func (c *Controller) conversationLock(conversationID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[conversationID] = lock
	}
	return lock
}

// StartCollection creates a fresh session when the conversation is idle.
func (c *Controller) StartCollection(ctx context.Context, conversationID string, startedAt time.Time) (StartStatus, error) {
	lock := c.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	current, err := c.store.Load(ctx, conversationID)
	if err != nil {
		return TaskLocked, err
	}
	if current != nil {
		if len(current.Items) > 0 && !current.Locked {
			return TaskExists, nil
		}
		return TaskLocked, nil
	}
	sess := New(conversationID, startedAt)
	if err := c.store.Save(ctx, sess); err != nil {
		return TaskLocked, err
	}
	c.logger.Info("collection started", slog.String("conversation", conversationID))
	return Started, nil
}

// AddItem inserts one reference into a collecting session.
func (c *Controller) AddItem(ctx context.Context, conversationID, ref string) (AddResult, error) {
	lock := c.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	current, err := c.store.Load(ctx, conversationID)
	if err != nil {
		return AddResult{Status: NoSession}, err
	}
	if current == nil {
		return AddResult{Status: NoSession}, nil
	}
	if current.Locked {
		return AddResult{Status: LockedSession}, nil
	}
	if current.HasItem(ref) {
		return AddResult{Status: Duplicate, Count: len(current.Items), Remaining: c.max - len(current.Items)}, nil
	}
	if len(current.Items) >= c.max {
		return AddResult{Status: Full, Count: len(current.Items)}, nil
	}
	current.AddItem(ref)
	if err := c.store.Save(ctx, current); err != nil {
		return AddResult{Status: NoSession}, err
	}
	return AddResult{
		Status:    Added,
		Added:     1,
		Count:     len(current.Items),
		Remaining: c.max - len(current.Items),
	}, nil
}

// AddItems bulk-inserts a sticker set. The whole set is rejected when the
// distinct new references would push the count past the limit.
func (c *Controller) AddItems(ctx context.Context, conversationID string, refs []string) (AddResult, error) {
	lock := c.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	current, err := c.store.Load(ctx, conversationID)
	if err != nil {
		return AddResult{Status: NoSession}, err
	}
	if current == nil {
		return AddResult{Status: NoSession}, nil
	}
	if current.Locked {
		return AddResult{Status: LockedSession}, nil
	}
	fresh := make([]string, 0, len(refs))
	for _, ref := range refs {
		if !current.HasItem(ref) {
			fresh = append(fresh, ref)
		}
	}
	if len(current.Items)+len(fresh) > c.max {
		return AddResult{Status: Exceeds, Count: len(current.Items)}, nil
	}
	for _, ref := range fresh {
		current.AddItem(ref)
	}
	if err := c.store.Save(ctx, current); err != nil {
		return AddResult{Status: NoSession}, err
	}
	return AddResult{
		Status:    Added,
		Added:     len(fresh),
		Count:     len(current.Items),
		Remaining: c.max - len(current.Items),
	}, nil
}

// RequestFinish flips the lock and persists it before returning the snapshot
// the pipeline will own. Once this returns Handoff, a racing AddItem observes
// Locked and fails closed.
func (c *Controller) RequestFinish(ctx context.Context, conversationID string) (FinishResult, error) {
	lock := c.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	current, err := c.store.Load(ctx, conversationID)
	if err != nil {
		return FinishResult{Status: FinishNoSession}, err
	}
	if current == nil {
		return FinishResult{Status: FinishNoSession}, nil
	}
	if current.Locked {
		return FinishResult{Status: AlreadyLocked}, nil
	}
	if len(current.Items) == 0 {
		return FinishResult{Status: EmptyTask}, nil
	}
	current.Locked = true
	if err := c.store.Save(ctx, current); err != nil {
		return FinishResult{Status: FinishNoSession}, err
	}
	c.logger.Info("collection locked",
		slog.String("conversation", conversationID),
		slog.Int("items", len(current.Items)))
	return FinishResult{Status: Handoff, Snapshot: current.Clone()}, nil
}
