package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/nlazarev/visavis/internal/core"
	"github.com/nlazarev/visavis/internal/domain"
)

type nullConn struct{}

func (nullConn) TrySend(core.Frame) error { return nil }
func (nullConn) Close()                   {}

func TestRegisterAssignsStrictlyIncreasingIDs(t *testing.T) {
	reg := NewRegistry()
	var prev domain.ID
	for i := 0; i < 100; i++ {
		identity, _ := reg.Register(nullConn{})
		if i > 0 && identity.ID <= prev {
			t.Fatalf("id %d not greater than previous %d", identity.ID, prev)
		}
		prev = identity.ID
	}
}

func TestConcurrentRegisterNeverReusesIDs(t *testing.T) {
	reg := NewRegistry()
	const n = 200

	ids := make(chan domain.ID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity, _ := reg.Register(nullConn{})
			ids <- identity.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[domain.ID]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct ids, want %d", len(seen), n)
	}
}

func TestSetNameSuffixesCollisions(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Register(nullConn{})
	b, _ := reg.Register(nullConn{})
	c, _ := reg.Register(nullConn{})

	name, changed, _, err := reg.SetName(a.ID, "alice")
	if err != nil || name != "alice" || changed {
		t.Fatalf("first alice: name=%q changed=%v err=%v", name, changed, err)
	}
	name, changed, _, err = reg.SetName(b.ID, "alice")
	if err != nil || name != "alice1" || !changed {
		t.Fatalf("second alice: name=%q changed=%v err=%v", name, changed, err)
	}
	name, changed, _, err = reg.SetName(c.ID, "bob")
	if err != nil || name != "bob" || changed {
		t.Fatalf("bob: name=%q changed=%v err=%v", name, changed, err)
	}
}

func TestSuffixCounterNeverResets(t *testing.T) {
	reg := NewRegistry()
	first, _ := reg.Register(nullConn{})
	if _, _, _, err := reg.SetName(first.ID, "dup"); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	// Every new collision must terminate with a brand-new suffixed
	// name, even after earlier suffixed connections leave.
	seen := map[string]bool{"dup": true}
	for i := 0; i < 50; i++ {
		identity, _ := reg.Register(nullConn{})
		name, _, _, err := reg.SetName(identity.ID, "dup")
		if err != nil {
			t.Fatalf("SetName #%d: %v", i, err)
		}
		if seen[name] {
			t.Fatalf("assigned name %q twice", name)
		}
		seen[name] = true
		reg.Unregister(identity.ID)
	}
}

func TestNoTwoConnectionsShareAName(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 30; i++ {
		identity, _ := reg.Register(nullConn{})
		if _, _, _, err := reg.SetName(identity.ID, fmt.Sprintf("user%d", i%3)); err != nil {
			t.Fatalf("SetName: %v", err)
		}
	}
	names := make(map[string]bool)
	for _, s := range reg.Snapshot() {
		if s.Name == "" {
			continue
		}
		if names[s.Name] {
			t.Fatalf("duplicate connected name %q", s.Name)
		}
		names[s.Name] = true
	}
}

func TestSnapshotConsistency(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Register(nullConn{})
	_, _, snap, err := reg.SetName(a.ID, "alice")
	if err != nil {
		t.Fatalf("SetName: %v", err)
	}
	if !snapshotHasName(snap, "alice") {
		t.Fatalf("snapshot after SetName misses alice: %+v", snap)
	}

	snap = reg.Unregister(a.ID)
	if snapshotHasName(snap, "alice") {
		t.Fatalf("snapshot after Unregister still has alice: %+v", snap)
	}
}

func TestUnregisterBeforeNamingHandshake(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Register(nullConn{})
	snap := reg.Unregister(a.ID)
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	// And again: must stay a no-op.
	reg.Unregister(a.ID)
}

func TestSetNameValidation(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Register(nullConn{})
	if _, _, _, err := reg.SetName(a.ID, ""); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, _, _, err := reg.SetName(domain.ID(1), "ghost"); err != ErrNotRegistered {
		t.Fatalf("err=%v, want ErrNotRegistered", err)
	}
}

func TestLookup(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Register(nullConn{})
	reg.SetName(a.ID, "alice")

	snap, ok := reg.Lookup("alice")
	if !ok || snap.ID != a.ID {
		t.Fatalf("Lookup(alice)=%+v ok=%v", snap, ok)
	}
	if _, ok := reg.Lookup("nobody"); ok {
		t.Fatalf("Lookup(nobody) should miss")
	}
}

func snapshotHasName(snap []ConnSnap, name string) bool {
	for _, s := range snap {
		if s.Name == name {
			return true
		}
	}
	return false
}
