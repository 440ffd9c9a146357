package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	sess   *Session
	cancel context.CancelFunc
	done   <-chan struct{}
}

func (e *entry) live() bool {
	if e.done == nil {
		return true
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Store is the session table. One mutex guards every field; no method
// blocks on I/O while holding it.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry // keyed by device path
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
	}
}

// Admit inserts a session for sess.Path unless the path already has an
// entry, live or exited. Exited entries stay until Reap retires them so
// every removal is reported. The session gets the smallest player slot not
// held by a live session.
// cancel and done belong to the monitor task that will own the session; done
// must be closed when that task exits. The returned copy reflects the
// assigned ID and slot.
func (s *Store) Admit(sess *Session, cancel context.CancelFunc, done <-chan struct{}) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.Path]; ok {
		return nil, false
	}

	c := sess.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	if c.LastInputAt.IsZero() {
		c.LastInputAt = c.StartedAt
	}
	c.State = Active
	c.PlayerSlot = s.freeSlotLocked()

	s.sessions[c.Path] = &entry{sess: c, cancel: cancel, done: done}
	return c.Clone(), true
}

func (s *Store) freeSlotLocked() int {
	used := make(map[int]bool, len(s.sessions))
	for _, e := range s.sessions {
		if !e.live() {
			continue
		}
		used[e.sess.PlayerSlot] = true
	}
	slot := 1
	for used[slot] {
		slot++
	}
	return slot
}

func (s *Store) Get(path string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[path]
	if !ok {
		return nil, false
	}
	return e.sess.Clone(), true
}

// BySlot finds the session currently holding a player slot.
func (s *Store) BySlot(slot int) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.sessions {
		if e.sess.PlayerSlot == slot && e.live() {
			return e.sess.Clone(), true
		}
	}
	return nil, false
}

// Snapshot returns copies of every session sorted by device path.
func (s *Store) Snapshot() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e.sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Touch records qualifying input and returns the session to Active.
func (s *Store) Touch(path string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[path]; ok {
		e.sess.LastInputAt = at
		if e.sess.State != Terminated {
			e.sess.State = Active
		}
	}
}

func (s *Store) SetState(path string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[path]; ok {
		e.sess.State = st
	}
}

// SetCharging records a charging observation and returns the previous one.
func (s *Store) SetCharging(path string, c Charging) Charging {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[path]
	if !ok {
		return ChargingUnknown
	}
	prev := e.sess.LastCharging
	e.sess.LastCharging = c
	return prev
}

// Cancel signals the monitor owning path to stop. It does not wait.
func (s *Store) Cancel(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[path]
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Reap removes every session whose monitor task has exited and returns
// them.
func (s *Store) Reap() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*Session
	for path, e := range s.sessions {
		if e.live() {
			continue
		}
		e.sess.State = Terminated
		removed = append(removed, e.sess.Clone())
		delete(s.sessions, path)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Path < removed[j].Path })
	return removed
}

// Renumber assigns player slots 1..N in device-path order and returns the
// sessions whose slot changed.
func (s *Store) Renumber() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.sessions))
	for path := range s.sessions {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var changed []*Session
	for i, path := range paths {
		e := s.sessions[path]
		if e.sess.PlayerSlot != i+1 {
			e.sess.PlayerSlot = i + 1
			changed = append(changed, e.sess.Clone())
		}
	}
	return changed
}

// CancelAll signals every monitor to stop and returns their done channels
// so the caller can wait.
func (s *Store) CancelAll() []<-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	dones := make([]<-chan struct{}, 0, len(s.sessions))
	for _, e := range s.sessions {
		if e.cancel != nil {
			e.cancel()
		}
		if e.done != nil {
			dones = append(dones, e.done)
		}
	}
	return dones
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// LiveCount counts sessions whose monitor is still running.
func (s *Store) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.sessions {
		if e.live() {
			n++
		}
	}
	return n
}
