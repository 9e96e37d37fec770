// Package threads keeps the in-memory index of announcement threads the bot
// still engages with, mirrored to disk on every mutation so a restart does
// not orphan live threads.
package threads

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"cakeday/internal/domain"
	"cakeday/internal/store"
)

// Tracker owns the tracked-thread map. All reads lazily drop expired
// entries; a periodic sweep persists the pruned state.
type Tracker struct {
	store  *store.Store
	clock  clockwork.Clock
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	threads map[string]domain.TrackedThread
}

func NewTracker(st *store.Store, clock clockwork.Clock, ttl time.Duration, logger *slog.Logger) (*Tracker, error) {
	loaded, err := st.TrackedThreads()
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		store:   st,
		clock:   clock,
		ttl:     ttl,
		logger:  logger,
		threads: loaded,
	}
	return t, nil
}

// Track registers a freshly posted announcement thread.
func (t *Tracker) Track(ctx context.Context, thread domain.TrackedThread) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = t.clock.Now()
	}

	t.mu.Lock()
	t.threads[thread.Key()] = thread
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.DebugContext(ctx, "thread tracked",
		slog.String("key", thread.Key()),
		slog.String("type", string(thread.Type)),
	)
	return t.store.SaveTrackedThreads(ctx, snapshot)
}

// Get returns the live thread for channel:ts. Expired threads read as
// absent and are dropped from the map; the next sweep persists the removal.
func (t *Tracker) Get(channelID, ts string) (domain.TrackedThread, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := channelID + ":" + ts
	thread, ok := t.threads[key]
	if !ok {
		return domain.TrackedThread{}, false
	}
	if t.expired(thread) {
		delete(t.threads, key)
		return domain.TrackedThread{}, false
	}
	return thread, true
}

// IncrementReactions bumps the reaction counter and reports whether the
// per-thread cap still allows another reaction.
func (t *Tracker) IncrementReactions(ctx context.Context, channelID, ts string, cap int) (bool, error) {
	t.mu.Lock()
	key := channelID + ":" + ts
	thread, ok := t.threads[key]
	if !ok || t.expired(thread) {
		t.mu.Unlock()
		return false, nil
	}
	if thread.ReactionsCount >= cap {
		t.mu.Unlock()
		return false, nil
	}
	thread.ReactionsCount++
	t.threads[key] = thread
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	return true, t.store.SaveTrackedThreads(ctx, snapshot)
}

// IncrementResponses records one bot reply in the thread.
func (t *Tracker) IncrementResponses(ctx context.Context, channelID, ts string) error {
	t.mu.Lock()
	key := channelID + ":" + ts
	thread, ok := t.threads[key]
	if !ok || t.expired(thread) {
		t.mu.Unlock()
		return nil
	}
	thread.ResponsesSent++
	t.threads[key] = thread
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	return t.store.SaveTrackedThreads(ctx, snapshot)
}

// Active returns the live threads, newest first not guaranteed.
func (t *Tracker) Active() []domain.TrackedThread {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.TrackedThread, 0, len(t.threads))
	for _, thread := range t.threads {
		if !t.expired(thread) {
			out = append(out, thread)
		}
	}
	return out
}

// Len counts live threads.
func (t *Tracker) Len() int {
	return len(t.Active())
}

// CleanupExpired drops expired threads and persists the pruned map. Returns
// the number removed.
func (t *Tracker) CleanupExpired(ctx context.Context) (int, error) {
	t.mu.Lock()
	removed := 0
	for key, thread := range t.threads {
		if t.expired(thread) {
			delete(t.threads, key)
			removed++
		}
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	t.logger.InfoContext(ctx, "expired threads pruned", slog.Int("removed", removed))
	return removed, t.store.SaveTrackedThreads(ctx, snapshot)
}

// RunSweeper prunes on an interval until the context ends.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := t.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := t.CleanupExpired(ctx); err != nil {
				t.logger.ErrorContext(ctx, "thread sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (t *Tracker) expired(thread domain.TrackedThread) bool {
	return t.clock.Now().Sub(thread.CreatedAt) > t.ttl
}

func (t *Tracker) snapshotLocked() map[string]domain.TrackedThread {
	snapshot := make(map[string]domain.TrackedThread, len(t.threads))
	for k, v := range t.threads {
		snapshot[k] = v
	}
	return snapshot
}
