package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// task fakes a monitor task: stop closes done the way a runner does on exit.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newTask() *task {
	t := &task{done: make(chan struct{})}
	t.cancel = func() { t.stop() }
	return t
}

func (t *task) stop() {
	t.once.Do(func() { close(t.done) })
}

func admit(t *testing.T, s *Store, path string) (*Session, *task) {
	t.Helper()
	tk := newTask()
	sess, ok := s.Admit(&Session{Path: path, DisplayName: "DualSense"}, tk.cancel, tk.done)
	if !ok {
		t.Fatalf("Admit(%s) returned ok=false", path)
	}
	return sess, tk
}

func slots(s *Store) map[string]int {
	out := make(map[string]int)
	for _, sess := range s.Snapshot() {
		out[sess.Path] = sess.PlayerSlot
	}
	return out
}

func TestNewStore(t *testing.T) {
	s := NewStore()
	if s == nil {
		t.Fatal("NewStore() returned nil")
	}
	if got := len(s.Snapshot()); got != 0 {
		t.Errorf("new store has %d sessions, want 0", got)
	}
	if got := s.LiveCount(); got != 0 {
		t.Errorf("new store LiveCount() = %d, want 0", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	st, ok := s.Get("/dev/input/event1")
	if ok {
		t.Error("Get for missing key returned ok=true")
	}
	if st != nil {
		t.Error("Get for missing key returned non-nil session")
	}
}

func TestAdmitAssignsDefaults(t *testing.T) {
	s := NewStore()
	sess, _ := admit(t, s, "/dev/input/event4")

	if sess.ID == "" {
		t.Error("Admit did not assign an ID")
	}
	if sess.PlayerSlot != 1 {
		t.Errorf("PlayerSlot = %d, want 1", sess.PlayerSlot)
	}
	if sess.State != Active {
		t.Errorf("State = %v, want active", sess.State)
	}
	if sess.LastInputAt.IsZero() || !sess.LastInputAt.Equal(sess.StartedAt) {
		t.Errorf("LastInputAt = %v, want StartedAt %v", sess.LastInputAt, sess.StartedAt)
	}
}

func TestAdmitRejectsLiveDuplicate(t *testing.T) {
	s := NewStore()
	admit(t, s, "/dev/input/event4")

	tk := newTask()
	if _, ok := s.Admit(&Session{Path: "/dev/input/event4"}, tk.cancel, tk.done); ok {
		t.Error("Admit accepted a second live session for the same path")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestAdmitWaitsForReapOfExitedSession(t *testing.T) {
	s := NewStore()
	first, tk := admit(t, s, "/dev/input/event4")
	tk.stop()

	next := newTask()
	if _, ok := s.Admit(&Session{Path: "/dev/input/event4"}, next.cancel, next.done); ok {
		t.Fatal("Admit replaced an exited session before it was reaped")
	}

	removed := s.Reap()
	if len(removed) != 1 || removed[0].ID != first.ID {
		t.Fatalf("Reap() = %v, want the exited session %s", removed, first.ID)
	}

	second, _ := admit(t, s, "/dev/input/event4")
	if second.ID == first.ID {
		t.Error("replacement session reused the old ID")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestAdmitSmallestFreeSlot(t *testing.T) {
	s := NewStore()
	admit(t, s, "/dev/input/event1")
	_, tk2 := admit(t, s, "/dev/input/event2")
	admit(t, s, "/dev/input/event3")

	tk2.stop()
	sess, _ := admit(t, s, "/dev/input/event9")
	if sess.PlayerSlot != 2 {
		t.Errorf("PlayerSlot = %d, want reused slot 2", sess.PlayerSlot)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	admit(t, s, "/dev/input/event1")

	got, _ := s.Get("/dev/input/event1")
	got.DisplayName = "mutated"

	got2, _ := s.Get("/dev/input/event1")
	if got2.DisplayName != "DualSense" {
		t.Error("Get did not return a copy; mutation leaked into store")
	}
}

func TestAdmitStoresCopy(t *testing.T) {
	s := NewStore()
	in := &Session{Path: "/dev/input/event1", DisplayName: "original"}
	tk := newTask()
	s.Admit(in, tk.cancel, tk.done)
	in.DisplayName = "mutated"

	got, _ := s.Get("/dev/input/event1")
	if got.DisplayName != "original" {
		t.Error("Admit did not copy input; external mutation leaked into store")
	}
}

func TestRenumberSortsByPath(t *testing.T) {
	s := NewStore()
	// Arrival order event2 then event1.
	admit(t, s, "/dev/input/event2")
	admit(t, s, "/dev/input/event1")

	if got := slots(s); got["/dev/input/event2"] != 1 || got["/dev/input/event1"] != 2 {
		t.Fatalf("pre-renumber slots = %v", got)
	}

	changed := s.Renumber()
	if len(changed) != 2 {
		t.Errorf("Renumber changed %d sessions, want 2", len(changed))
	}
	got := slots(s)
	if got["/dev/input/event1"] != 1 || got["/dev/input/event2"] != 2 {
		t.Errorf("slots = %v, want event1=1 event2=2", got)
	}

	if again := s.Renumber(); len(again) != 0 {
		t.Errorf("second Renumber changed %d sessions, want 0", len(again))
	}
}

func TestReapRemovesExitedAndCompacts(t *testing.T) {
	s := NewStore()
	admit(t, s, "/dev/input/event1")
	_, tk2 := admit(t, s, "/dev/input/event2")
	admit(t, s, "/dev/input/event3")

	tk2.stop()
	removed := s.Reap()
	if len(removed) != 1 || removed[0].Path != "/dev/input/event2" {
		t.Fatalf("Reap = %+v, want event2", removed)
	}
	if removed[0].State != Terminated {
		t.Errorf("reaped State = %v, want terminated", removed[0].State)
	}
	s.Renumber()

	got := slots(s)
	if len(got) != 2 || got["/dev/input/event1"] != 1 || got["/dev/input/event3"] != 2 {
		t.Errorf("slots = %v, want event1=1 event3=2", got)
	}
}

func TestSlotsAlwaysCompact(t *testing.T) {
	s := NewStore()
	tasks := map[string]*task{}
	for i := 0; i < 8; i++ {
		path := fmt.Sprintf("/dev/input/event%02d", (i*5)%8)
		_, tk := admit(t, s, path)
		tasks[path] = tk
	}
	for _, path := range []string{"/dev/input/event00", "/dev/input/event05", "/dev/input/event07"} {
		tasks[path].stop()
	}
	s.Reap()
	s.Renumber()

	seen := map[int]bool{}
	for _, sess := range s.Snapshot() {
		if seen[sess.PlayerSlot] {
			t.Fatalf("duplicate slot %d", sess.PlayerSlot)
		}
		seen[sess.PlayerSlot] = true
	}
	for i := 1; i <= len(seen); i++ {
		if !seen[i] {
			t.Errorf("slot %d missing from %v", i, seen)
		}
	}
}

func TestBySlot(t *testing.T) {
	s := NewStore()
	admit(t, s, "/dev/input/event1")
	admit(t, s, "/dev/input/event2")

	got, ok := s.BySlot(2)
	if !ok || got.Path != "/dev/input/event2" {
		t.Errorf("BySlot(2) = %+v, %v", got, ok)
	}
	if _, ok := s.BySlot(3); ok {
		t.Error("BySlot(3) found a session")
	}
}

func TestTouchAndState(t *testing.T) {
	s := NewStore()
	admit(t, s, "/dev/input/event1")

	s.SetState("/dev/input/event1", IdleCheck)
	at := time.Now().Add(time.Minute)
	s.Touch("/dev/input/event1", at)

	got, _ := s.Get("/dev/input/event1")
	if !got.LastInputAt.Equal(at) {
		t.Errorf("LastInputAt = %v, want %v", got.LastInputAt, at)
	}
	if got.State != Active {
		t.Errorf("State = %v, want active after Touch", got.State)
	}

	// Unknown paths are ignored.
	s.Touch("/dev/input/event9", at)
	s.SetState("/dev/input/event9", Terminated)
}

func TestSetChargingReturnsPrevious(t *testing.T) {
	s := NewStore()
	admit(t, s, "/dev/input/event1")

	if prev := s.SetCharging("/dev/input/event1", ChargingYes); prev != ChargingUnknown {
		t.Errorf("first prev = %v, want unknown", prev)
	}
	if prev := s.SetCharging("/dev/input/event1", ChargingNo); prev != ChargingYes {
		t.Errorf("second prev = %v, want charging", prev)
	}
}

func TestCancelAllSignalsEveryTask(t *testing.T) {
	s := NewStore()
	admit(t, s, "/dev/input/event1")
	admit(t, s, "/dev/input/event2")

	dones := s.CancelAll()
	if len(dones) != 2 {
		t.Fatalf("CancelAll returned %d channels, want 2", len(dones))
	}
	for i, d := range dones {
		select {
		case <-d:
		case <-time.After(time.Second):
			t.Fatalf("task %d not stopped", i)
		}
	}
	if s.LiveCount() != 0 {
		t.Errorf("LiveCount = %d after CancelAll, want 0", s.LiveCount())
	}
}

func TestCancelSingle(t *testing.T) {
	s := NewStore()
	_, tk := admit(t, s, "/dev/input/event1")
	if !s.Cancel("/dev/input/event1") {
		t.Fatal("Cancel returned false")
	}
	select {
	case <-tk.done:
	default:
		t.Error("task not cancelled")
	}
	if s.Cancel("/dev/input/event9") {
		t.Error("Cancel on missing path returned true")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/dev/input/event%d", i)
			tk := newTask()
			s.Admit(&Session{Path: path}, tk.cancel, tk.done)
			s.Touch(path, time.Now())
			s.SetCharging(path, ChargingNo)
			s.Snapshot()
			if i%2 == 0 {
				tk.stop()
			}
		}(i)
	}
	wg.Wait()

	s.Reap()
	s.Renumber()
	if got := s.Len(); got != 10 {
		t.Errorf("Len = %d, want 10", got)
	}
}
