// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package awareness

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/ycollab/ycollab-go/lib0"
)

// encodeBlob builds an update blob by hand for feeding ApplyUpdate.
func encodeBlob(t *testing.T, recs []updateRecord) []byte {
	t.Helper()

	var buff bytes.Buffer
	if err := lib0.WriteUint(uint64(len(recs)), &buff); err != nil {
		t.Fatal(err)
	}
	for _, rec := range recs {
		if err := writeRecord(rec, &buff); err != nil {
			t.Fatal(err)
		}
	}
	return buff.Bytes()
}

func TestNewStartsWithEmptyObjectState(t *testing.T) {
	a := New(7)
	defer a.Destroy()

	if local := a.LocalState(); string(local) != "{}" {
		t.Fatalf("expected {} as initial local state, got %s", local)
	}
	if m, ok := a.Meta()[7]; !ok {
		t.Fatal("expected a meta record for the local client")
	} else if m.Clock != 0 {
		t.Fatalf("expected clock 0, got %d", m.Clock)
	}
}

func TestLocalClockIncrements(t *testing.T) {
	a := New(1)
	defer a.Destroy()

	before := a.Meta()[1].Clock
	for i := 0; i < 5; i++ {
		if err := a.SetLocalState(map[string]interface{}{"i": i}); err != nil {
			t.Fatal(err)
		}
	}

	if after := a.Meta()[1].Clock; after != before+5 {
		t.Fatalf("expected clock %d, got %d", before+5, after)
	}
}

func TestSelfDefense(t *testing.T) {
	// local client 7, state {"name":"a"}, clock 3; an incoming tombstone with
	// the same clock must bump the clock and keep the state.
	a := New(7)
	defer a.Destroy()

	if err := a.SetLocalState(map[string]string{"name": "a"}); err != nil {
		t.Fatal(err)
	}
	a.mu.Lock()
	a.meta[7] = MetaClientState{Clock: 3, LastUpdated: time.Now()}
	a.mu.Unlock()

	blob := encodeBlob(t, []updateRecord{{Client: 7, Clock: 3, State: nil}})
	if err := a.ApplyUpdate(blob, "remote"); err != nil {
		t.Fatal(err)
	}

	if state := a.LocalState(); !jsonEqual(state, json.RawMessage(`{"name":"a"}`)) {
		t.Fatalf("local state was lost: %s", state)
	}
	if clock := a.Meta()[7].Clock; clock != 4 {
		t.Fatalf("expected clock 4, got %d", clock)
	}
}

func TestOlderClockRejected(t *testing.T) {
	a := New(1)
	defer a.Destroy()

	seed := encodeBlob(t, []updateRecord{{Client: 9, Clock: 5, State: json.RawMessage(`{"x":0}`)}})
	if err := a.ApplyUpdate(seed, "remote"); err != nil {
		t.Fatal(err)
	}

	events := 0
	a.OnUpdate(func(ChangeSet, interface{}) { events++ })
	a.OnChange(func(ChangeSet, interface{}) { events++ })

	stale := encodeBlob(t, []updateRecord{{Client: 9, Clock: 4, State: json.RawMessage(`{"x":1}`)}})
	if err := a.ApplyUpdate(stale, "remote"); err != nil {
		t.Fatal(err)
	}

	if state := a.States()[9]; !jsonEqual(state, json.RawMessage(`{"x":0}`)) {
		t.Fatalf("state mutated by stale record: %s", state)
	}
	if clock := a.Meta()[9].Clock; clock != 5 {
		t.Fatalf("clock mutated by stale record: %d", clock)
	}
	if events != 0 {
		t.Fatalf("expected no events, got %d", events)
	}
}

func TestApplyIdempotent(t *testing.T) {
	a := New(1)
	defer a.Destroy()

	blob := encodeBlob(t, []updateRecord{
		{Client: 9, Clock: 5, State: json.RawMessage(`{"x":0}`)},
		{Client: 12, Clock: 2, State: nil},
	})

	if err := a.ApplyUpdate(blob, "remote"); err != nil {
		t.Fatal(err)
	}

	states1, meta1 := a.States(), a.Meta()

	events := 0
	a.OnUpdate(func(ChangeSet, interface{}) { events++ })

	if err := a.ApplyUpdate(blob, "remote"); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(states1, a.States()) || !reflect.DeepEqual(meta1, a.Meta()) {
		t.Fatal("second application mutated the engine")
	}
	if events != 0 {
		t.Fatalf("expected no events on re-application, got %d", events)
	}
}

func TestTimeoutEviction(t *testing.T) {
	a := New(1)
	defer a.Destroy()

	blob := encodeBlob(t, []updateRecord{{Client: 12, Clock: 1, State: json.RawMessage(`{}`)}})
	if err := a.ApplyUpdate(blob, "remote"); err != nil {
		t.Fatal(err)
	}

	// age peer 12 beyond the timeout
	a.mu.Lock()
	a.meta[12] = MetaClientState{Clock: 1, LastUpdated: time.Now().Add(-31 * time.Second)}
	a.mu.Unlock()

	var gotChange, gotUpdate ChangeSet
	var gotOrigin interface{}
	a.OnChange(func(cs ChangeSet, origin interface{}) { gotChange = cs })
	a.OnUpdate(func(cs ChangeSet, origin interface{}) { gotUpdate, gotOrigin = cs, origin })

	a.sweep()

	if _, present := a.States()[12]; present {
		t.Fatal("peer 12 survived the sweep")
	}
	want := []uint32{12}
	if !reflect.DeepEqual(gotChange.Removed, want) || !reflect.DeepEqual(gotUpdate.Removed, want) {
		t.Fatalf("expected removed=[12], got change=%v update=%v", gotChange, gotUpdate)
	}
	if gotOrigin != OriginTimeout {
		t.Fatalf("expected origin %q, got %v", OriginTimeout, gotOrigin)
	}
}

func TestSweepRenewsLocalState(t *testing.T) {
	a := New(1)
	defer a.Destroy()

	a.mu.Lock()
	m := a.meta[1]
	m.LastUpdated = time.Now().Add(-16 * time.Second)
	a.meta[1] = m
	clockBefore := m.Clock
	a.mu.Unlock()

	var origin interface{}
	a.OnUpdate(func(cs ChangeSet, o interface{}) { origin = o })

	a.sweep()

	am := a.Meta()[1]
	if am.Clock != clockBefore+1 {
		t.Fatalf("expected renewed clock %d, got %d", clockBefore+1, am.Clock)
	}
	if time.Since(am.LastUpdated) > time.Second {
		t.Fatal("LastUpdated was not refreshed")
	}
	if origin != OriginLocal {
		t.Fatalf("expected origin %q, got %v", OriginLocal, origin)
	}
}

func TestRemoveStatesSelfBumpsClock(t *testing.T) {
	a := New(3)
	defer a.Destroy()

	clockBefore := a.Meta()[3].Clock
	a.RemoveStates([]uint32{3}, OriginLocal)

	if a.LocalState() != nil {
		t.Fatal("local state still present")
	}
	if clock := a.Meta()[3].Clock; clock != clockBefore+1 {
		t.Fatalf("expected clock %d, got %d", clockBefore+1, clock)
	}

	// removing an absent client is a no-op without events
	fired := false
	a.OnUpdate(func(ChangeSet, interface{}) { fired = true })
	a.RemoveStates([]uint32{3}, OriginLocal)
	if fired {
		t.Fatal("removal of an absent state fired an event")
	}
}

func TestSetLocalStateField(t *testing.T) {
	a := New(4)
	defer a.Destroy()

	if err := a.SetLocalState(map[string]interface{}{"name": "a", "color": "red"}); err != nil {
		t.Fatal(err)
	}
	if err := a.SetLocalStateField("color", "blue"); err != nil {
		t.Fatal(err)
	}

	if !jsonEqual(a.LocalState(), json.RawMessage(`{"name":"a","color":"blue"}`)) {
		t.Fatalf("unexpected local state: %s", a.LocalState())
	}
}

func TestChangeFiltersEqualStates(t *testing.T) {
	a := New(4)
	defer a.Destroy()

	if err := a.SetLocalState(map[string]string{"name": "a"}); err != nil {
		t.Fatal(err)
	}

	changes, updates := 0, 0
	a.OnChange(func(ChangeSet, interface{}) { changes++ })
	a.OnUpdate(func(ChangeSet, interface{}) { updates++ })

	// re-assigning a deeply equal state is an update, not a change
	if err := a.SetLocalState(map[string]string{"name": "a"}); err != nil {
		t.Fatal(err)
	}

	if changes != 0 {
		t.Fatalf("expected no change events, got %d", changes)
	}
	if updates != 1 {
		t.Fatalf("expected one update event, got %d", updates)
	}
}
