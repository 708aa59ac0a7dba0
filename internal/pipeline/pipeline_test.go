package pipeline

import (
	"testing"
	"time"
)

type fakeHandler struct {
	name     string
	self     time.Time
	children []Handler
	fired    int
	rx       int
}

func (f *fakeHandler) Name() string             { return f.name }
func (f *fakeHandler) RX(tag byte, data []byte) { f.rx++ }
func (f *fakeHandler) TimeoutSelf() time.Time   { return f.self }
func (f *fakeHandler) DoTimeout(now time.Time)  { f.fired++; f.self = time.Time{} }
func (f *fakeHandler) Children() []Handler      { return f.children }

func TestNextIsMinOfSelfAndChildren(t *testing.T) {
	base := time.Unix(1000, 0)
	leaf := &fakeHandler{name: "leaf", self: base.Add(5 * time.Second)}
	mid := &fakeHandler{name: "mid", self: base.Add(10 * time.Second), children: []Handler{leaf}}
	root := &fakeHandler{name: "root", self: time.Time{}, children: []Handler{mid}}

	got := Next(root)
	if !got.Equal(leaf.self) {
		t.Fatalf("expected next deadline to be the leaf's 5s deadline, got %v", got)
	}
}

func TestNextIgnoresUnsetDeadlines(t *testing.T) {
	leaf := &fakeHandler{name: "leaf"} // zero deadline
	root := &fakeHandler{name: "root", children: []Handler{leaf}}
	if !Next(root).IsZero() {
		t.Fatal("expected zero (no deadline) when nothing is pending")
	}
}

func TestRunTimeoutsOnlyFiresElapsed(t *testing.T) {
	base := time.Unix(2000, 0)
	leaf := &fakeHandler{name: "leaf", self: base.Add(1 * time.Second)}
	other := &fakeHandler{name: "other", self: base.Add(100 * time.Second)}
	root := &fakeHandler{name: "root", children: []Handler{leaf, other}}

	RunTimeouts(root, base.Add(2*time.Second))

	if leaf.fired != 1 {
		t.Fatalf("expected leaf to fire once, got %d", leaf.fired)
	}
	if other.fired != 0 {
		t.Fatalf("expected other to not fire yet, got %d", other.fired)
	}
}

func TestRegistryDispatchFansOutToAllSubscribers(t *testing.T) {
	reg := NewRegistry()
	h1 := &fakeHandler{name: "h1"}
	h2 := &fakeHandler{name: "h2"}
	reg.Register(0x43, h1)
	reg.Register(0x43, h2)

	reg.Dispatch(0x43, []byte("x"), nil)

	if len(reg.All()) != 2 {
		t.Fatalf("expected 2 registered handlers, got %d", len(reg.All()))
	}
	if h1.rx != 1 || h2.rx != 1 {
		t.Fatalf("expected both subscribers to receive the unit once, got h1=%d h2=%d", h1.rx, h2.rx)
	}
}

func TestRegistryWarnsOnceForUnhandledTag(t *testing.T) {
	reg := NewRegistry()
	var warnings int
	onUnhandled := func(tag byte) { warnings++ }

	reg.Dispatch(0x99, []byte("x"), onUnhandled)
	reg.Dispatch(0x99, []byte("y"), onUnhandled)

	if warnings != 1 {
		t.Fatalf("expected exactly one warning, got %d", warnings)
	}
}
