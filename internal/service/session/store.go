package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/R2D1-BOT/retell-telegram-proxy/internal/model/chat"
)

// DefaultIdleTimeout is how long a session survives without activity.
const DefaultIdleTimeout = 30 * time.Minute

// expiredNotice is sent to the user exactly once when their idle session
// is evicted.
const expiredNotice = "This conversation was closed due to inactivity. Send a new message to start again."

// Notifier delivers out-of-band notices to the chat platform. Failures are
// logged by the store and never fed back into session state.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// CreateFunc obtains a fresh backend conversation handle for a new session.
type CreateFunc func(ctx context.Context) (string, error)

// entry is the per-chat slot. Its mutex serializes every mutating operation
// for one chat id: get-or-create, touch, invalidate and the expiry callback.
// gen counts timer reschedules so a timer that already fired but lost the
// race for the lock can detect it is stale and back off.
type entry struct {
	mu    sync.Mutex
	sess  *chat.Session
	timer *time.Timer
	gen   uint64
}

// Store is the single authoritative map from Telegram chat id to Session.
// The outer mutex only guards the map itself; all session state lives behind
// the per-entry lock, so slow backend calls for one chat never block another.
type Store struct {
	mu       sync.Mutex
	entries  map[int64]*entry
	idle     time.Duration
	notifier Notifier
}

// NewStore builds a store evicting sessions after the given idle window.
// A non-positive idle duration falls back to DefaultIdleTimeout.
func NewStore(idle time.Duration, notifier Notifier) *Store {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Store{
		entries:  make(map[int64]*entry),
		idle:     idle,
		notifier: notifier,
	}
}

// lockEntry returns the entry for chatID with its lock held, inserting an
// empty slot when absent. Because Invalidate and expiry detach entries from
// the map while holding the entry lock, the identity re-check loop is needed:
// locking a detached entry must not count as locking the live one.
func (s *Store) lockEntry(chatID int64) *entry {
	for {
		s.mu.Lock()
		e, ok := s.entries[chatID]
		if !ok {
			e = &entry{}
			s.entries[chatID] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		s.mu.Lock()
		current := s.entries[chatID]
		s.mu.Unlock()
		if current == e {
			return e
		}
		e.mu.Unlock()
	}
}

// lockExisting is lockEntry without the insert; reports false when the chat
// has no slot at all.
func (s *Store) lockExisting(chatID int64) (*entry, bool) {
	for {
		s.mu.Lock()
		e, ok := s.entries[chatID]
		s.mu.Unlock()
		if !ok {
			return nil, false
		}

		e.mu.Lock()
		s.mu.Lock()
		current := s.entries[chatID]
		s.mu.Unlock()
		if current == e {
			return e, true
		}
		e.mu.Unlock()
	}
}

// detachLocked removes the entry from the map; caller holds e.mu.
func (s *Store) detachLocked(chatID int64) {
	s.mu.Lock()
	delete(s.entries, chatID)
	s.mu.Unlock()
}

// scheduleLocked arms (or re-arms) the expiry timer; caller holds e.mu.
// The previous timer is always stopped first so at most one live timer
// exists per session.
func (s *Store) scheduleLocked(chatID int64, e *entry) {
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(s.idle, func() {
		s.expire(chatID, e, gen)
	})
}

// Get is a pure lookup with no side effects.
func (s *Store) Get(chatID int64) (chat.Session, bool) {
	e, ok := s.lockExisting(chatID)
	if !ok {
		return chat.Session{}, false
	}
	defer e.mu.Unlock()
	if e.sess == nil {
		return chat.Session{}, false
	}
	return *e.sess, true
}

// GetOrCreate returns the live session for chatID, invoking create to obtain
// a fresh conversation handle when none exists. Creation runs under the
// per-chat lock, so concurrent messages from the same chat produce exactly
// one backend conversation; chats with an existing session are untouched.
// When create fails nothing is stored and the error is returned as-is.
func (s *Store) GetOrCreate(ctx context.Context, chatID int64, create CreateFunc) (chat.Session, error) {
	e := s.lockEntry(chatID)
	defer e.mu.Unlock()

	if e.sess != nil {
		return *e.sess, nil
	}

	handle, err := create(ctx)
	if err != nil {
		// Drop the placeholder slot so a failed creation leaves no trace.
		s.detachLocked(chatID)
		return chat.Session{}, err
	}

	now := time.Now().UTC()
	e.sess = &chat.Session{
		ChatID:       chatID,
		Handle:       handle,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.scheduleLocked(chatID, e)
	log.Printf("[session] created chat=%d handle=%s", chatID, handle)
	return *e.sess, nil
}

// Touch refreshes the activity timestamp and restarts the idle countdown.
// Touching an absent session is a no-op.
func (s *Store) Touch(chatID int64) {
	e, ok := s.lockExisting(chatID)
	if !ok {
		return
	}
	defer e.mu.Unlock()
	if e.sess == nil {
		return
	}
	e.sess.LastActivity = time.Now().UTC()
	s.scheduleLocked(chatID, e)
}

// Invalidate removes the session and cancels its timer. Idempotent.
func (s *Store) Invalidate(chatID int64) {
	e, ok := s.lockExisting(chatID)
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++ // a timer that already fired must not evict a future session
	e.sess = nil
	s.detachLocked(chatID)
	e.mu.Unlock()
	log.Printf("[session] invalidated chat=%d", chatID)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// expire is the timer callback. It takes the same per-chat lock as every
// other mutation, so a message racing the deadline either touches the
// session first (gen moved on, we bail) or sees it already gone. The entry
// pointer pins the incarnation the timer was armed for: a timer surviving
// an invalidate-and-recreate cycle finds its entry detached and backs off.
func (s *Store) expire(chatID int64, e *entry, gen uint64) {
	e.mu.Lock()
	s.mu.Lock()
	live := s.entries[chatID] == e
	s.mu.Unlock()
	if !live || e.gen != gen || e.sess == nil {
		e.mu.Unlock()
		return
	}
	e.sess = nil
	s.detachLocked(chatID)
	e.mu.Unlock()

	log.Printf("[session] expired chat=%d after %s idle", chatID, s.idle)
	// One-shot notice, sent outside the per-chat lock. No retry.
	if err := s.notifier.SendMessage(context.Background(), chatID, expiredNotice); err != nil {
		log.Printf("[session] inactivity notice failed chat=%d: %v", chatID, err)
	}
}
