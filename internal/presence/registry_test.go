package presence

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegisterLookupUnregister(t *testing.T) {
	t.Parallel()
	r := New()
	if _, ok := r.Lookup("u1"); ok {
		t.Fatal("empty registry should miss")
	}

	r.Register("u1", "c1")
	r.Register("u1", "c2")
	if ch, ok := r.Lookup("u1"); !ok || ch != "c2" {
		t.Fatalf("Lookup = (%q, %v), want last writer c2", ch, ok)
	}

	r.Unregister("u1")
	if _, ok := r.Lookup("u1"); ok {
		t.Fatal("entry should be gone after Unregister")
	}
	r.Unregister("u1")
}

func TestUnregisterChannelKeepsNewerConnection(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register("u1", "old")
	r.Register("u1", "new")

	if r.UnregisterChannel("u1", "old") {
		t.Fatal("stale channel must not remove the newer entry")
	}
	if ch, _ := r.Lookup("u1"); ch != "new" {
		t.Fatalf("Lookup = %q, want new", ch)
	}
	if !r.UnregisterChannel("u1", "new") {
		t.Fatal("current channel should be removed")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestRegisterIgnoresEmptyIDs(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register("", "c1")
	r.Register("u1", "")
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i%8)
			ch := fmt.Sprintf("c%d", i)
			for j := 0; j < 200; j++ {
				r.Register(id, ch)
				_, _ = r.Lookup(id)
				r.UnregisterChannel(id, ch)
			}
		}(i)
	}
	wg.Wait()
	if r.Len() > 8 {
		t.Fatalf("Len = %d, more entries than recipients", r.Len())
	}
}
