// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package awareness maintains the ephemeral per-client presence states of a
// collaboration session: cursors, names, whatever the application puts there.
// Every client id maps to an opaque JSON state; a per-client monotonic clock
// gives last-writer-wins semantics for concurrent writes and a liveness
// timestamp drives the eviction of silent peers.
//
// Awareness states are never persisted with the document.
package awareness

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultOutdatedTimeout is the liveness horizon: a remote client whose state
// has not been refreshed within this duration is evicted.
const DefaultOutdatedTimeout = 30 * time.Second

const (
	// OriginLocal tags events caused by the local client's own assignments.
	OriginLocal = "local"

	// OriginTimeout tags removals performed by the liveness sweeper.
	OriginTimeout = "timeout"
)

// MetaClientState tracks the clock and liveness timestamp of one client id.
// The timestamp is local bookkeeping and never transmitted.
type MetaClientState struct {
	Clock       uint32
	LastUpdated time.Time
}

// ChangeSet lists the client ids affected by one state change.
type ChangeSet struct {
	Added   []uint32
	Updated []uint32
	Removed []uint32
}

func (c ChangeSet) empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Listener consumes a ChangeSet together with the origin of the change. The
// origin is the opaque token handed to the mutating call, e.g. OriginLocal,
// OriginTimeout or a transport's own marker.
type Listener func(change ChangeSet, origin interface{})

// Awareness is the engine holding the states and meta records of every
// observed client. The local client's entry is authoritative; remote entries
// mirror received update blobs.
//
// All methods are safe for concurrent use.
type Awareness struct {
	clientID uint32

	mu     sync.Mutex
	states map[uint32]json.RawMessage
	meta   map[uint32]MetaClientState

	updateListeners map[int]Listener
	changeListeners map[int]Listener
	nextListenerID  int

	outdatedTimeout time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates an Awareness engine for the given local client id.
//
// The local state starts as an empty JSON object, which is a valid,
// broadcastable state. A background sweeper re-asserts the local state and
// evicts outdated peers until Destroy is called.
func New(clientID uint32) (a *Awareness) {
	a = &Awareness{
		clientID: clientID,

		states: make(map[uint32]json.RawMessage),
		meta:   make(map[uint32]MetaClientState),

		updateListeners: make(map[int]Listener),
		changeListeners: make(map[int]Listener),

		outdatedTimeout: DefaultOutdatedTimeout,

		stopChan: make(chan struct{}),
	}

	a.setLocalState(json.RawMessage("{}"), OriginLocal)

	go a.sweeperLoop()

	return
}

// ClientID of the local client.
func (a *Awareness) ClientID() uint32 {
	return a.clientID
}

// logger returns a new logrus.Entry for this engine.
func (a *Awareness) logger() *log.Entry {
	return log.WithField("awareness", a.clientID)
}

// OnUpdate registers f for every accepted state change, carrying the full set
// of added, updated and removed client ids. This is the event to feed a wire
// re-broadcast. The returned function cancels the registration.
func (a *Awareness) OnUpdate(f Listener) (cancel func()) {
	return a.register(a.updateListeners, f)
}

// OnChange registers f for state changes whose decoded states actually
// differ; refreshes of an unchanged state are filtered out. The returned
// function cancels the registration.
func (a *Awareness) OnChange(f Listener) (cancel func()) {
	return a.register(a.changeListeners, f)
}

func (a *Awareness) register(listeners map[int]Listener, f Listener) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextListenerID
	a.nextListenerID++
	listeners[id] = f

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		delete(listeners, id)
	}
}

// snapshotListenersLocked copies the given listener set; the copies are
// invoked after the engine's lock is released so that a listener may call
// back into the engine.
func (a *Awareness) snapshotListenersLocked(listeners map[int]Listener) (fs []Listener) {
	fs = make([]Listener, 0, len(listeners))
	for _, f := range listeners {
		fs = append(fs, f)
	}
	return
}

// emit fires the change event for filtered and the update event for full,
// each only if its ChangeSet is non-empty. Must be called without the lock.
func (a *Awareness) emit(changeFs, updateFs []Listener, filtered, full ChangeSet, origin interface{}) {
	if !filtered.empty() {
		for _, f := range changeFs {
			f(filtered, origin)
		}
	}
	if !full.empty() {
		for _, f := range updateFs {
			f(full, origin)
		}
	}
}

// LocalState returns the local client's state, nil if it was removed.
func (a *Awareness) LocalState() json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.states[a.clientID]
}

// States returns a copy of all non-null client states.
func (a *Awareness) States() map[uint32]json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	states := make(map[uint32]json.RawMessage, len(a.states))
	for client, state := range a.states {
		states[client] = state
	}
	return states
}

// ClientIDs returns the ids of all clients with a non-null state.
func (a *Awareness) ClientIDs() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	clients := make([]uint32, 0, len(a.states))
	for client := range a.states {
		clients = append(clients, client)
	}
	return clients
}

// Meta returns a copy of the meta records of every observed client. A client
// may have a meta record without a state: a tombstone left by a removal.
func (a *Awareness) Meta() map[uint32]MetaClientState {
	a.mu.Lock()
	defer a.mu.Unlock()

	meta := make(map[uint32]MetaClientState, len(a.meta))
	for client, m := range a.meta {
		meta[client] = m
	}
	return meta
}

// SetLocalState assigns the local client's state. The state is marshalled as
// JSON; nil removes the local state. Every assignment increments the local
// clock, so peers can order concurrent writes.
func (a *Awareness) SetLocalState(state interface{}) error {
	raw, err := marshalState(state)
	if err != nil {
		return err
	}

	a.setLocalState(raw, OriginLocal)
	return nil
}

// SetLocalStateField updates a single field of the local JSON object state.
// A removed (nil) local state is left untouched.
func (a *Awareness) SetLocalStateField(field string, value interface{}) error {
	local := a.LocalState()
	if local == nil {
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(local, &obj); err != nil {
		return fmt.Errorf("local state is not a JSON object: %w", err)
	}
	if obj == nil {
		obj = make(map[string]interface{})
	}
	obj[field] = value

	return a.SetLocalState(obj)
}

func (a *Awareness) setLocalState(raw json.RawMessage, origin interface{}) {
	a.mu.Lock()

	clock := uint32(0)
	if m, known := a.meta[a.clientID]; known {
		clock = m.Clock + 1
	}

	prev, hadPrev := a.states[a.clientID]
	if raw == nil {
		delete(a.states, a.clientID)
	} else {
		a.states[a.clientID] = raw
	}
	a.meta[a.clientID] = MetaClientState{Clock: clock, LastUpdated: time.Now()}

	var full, filtered ChangeSet
	switch {
	case raw == nil:
		full.Removed = append(full.Removed, a.clientID)
		filtered.Removed = append(filtered.Removed, a.clientID)
	case !hadPrev:
		full.Added = append(full.Added, a.clientID)
		filtered.Added = append(filtered.Added, a.clientID)
	default:
		full.Updated = append(full.Updated, a.clientID)
		if !jsonEqual(prev, raw) {
			filtered.Updated = append(filtered.Updated, a.clientID)
		}
	}

	changeFs := a.snapshotListenersLocked(a.changeListeners)
	updateFs := a.snapshotListenersLocked(a.updateListeners)
	a.mu.Unlock()

	a.emit(changeFs, updateFs, filtered, full, origin)
}

// RemoveStates deletes the states of the given clients, e.g. on a
// connection's teardown or by the liveness sweeper. Removing the local client
// bumps its clock so that the removal wins against in-flight refreshes.
func (a *Awareness) RemoveStates(clients []uint32, origin interface{}) {
	a.mu.Lock()

	var removed []uint32
	for _, client := range clients {
		if _, known := a.states[client]; !known {
			continue
		}

		delete(a.states, client)
		if client == a.clientID {
			m := a.meta[client]
			a.meta[client] = MetaClientState{Clock: m.Clock + 1, LastUpdated: time.Now()}
		}
		removed = append(removed, client)
	}

	changeFs := a.snapshotListenersLocked(a.changeListeners)
	updateFs := a.snapshotListenersLocked(a.updateListeners)
	a.mu.Unlock()

	if len(removed) > 0 {
		cs := ChangeSet{Removed: removed}
		a.emit(changeFs, updateFs, cs, cs, origin)
	}
}

// sweeperLoop drives the liveness sweep every tenth of the outdated timeout.
func (a *Awareness) sweeperLoop() {
	ticker := time.NewTicker(a.outdatedTimeout / 10)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

// sweep re-asserts a stale local state, so peers receive keep-alives, and
// evicts every remote client whose state outlived the timeout.
func (a *Awareness) sweep() {
	a.mu.Lock()

	now := time.Now()

	var renew json.RawMessage
	if local, ok := a.states[a.clientID]; ok {
		if m := a.meta[a.clientID]; now.Sub(m.LastUpdated) >= a.outdatedTimeout/2 {
			renew = local
		}
	}

	var outdated []uint32
	for client, m := range a.meta {
		if client == a.clientID {
			continue
		}
		if _, present := a.states[client]; present && now.Sub(m.LastUpdated) >= a.outdatedTimeout {
			outdated = append(outdated, client)
		}
	}

	a.mu.Unlock()

	if renew != nil {
		a.setLocalState(renew, OriginLocal)
	}
	if len(outdated) > 0 {
		a.logger().WithField("clients", outdated).Debug("Evicting outdated awareness states")
		a.RemoveStates(outdated, OriginTimeout)
	}
}

// Destroy stops the sweeper. The engine's maps stay readable, but no timer
// fires afterwards. Destroy is idempotent.
func (a *Awareness) Destroy() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
}

// marshalState normalizes a user-supplied state into raw JSON; nil and the
// JSON literal null both map to a nil RawMessage.
func marshalState(state interface{}) (json.RawMessage, error) {
	if state == nil {
		return nil, nil
	}

	var raw json.RawMessage
	switch s := state.(type) {
	case json.RawMessage:
		raw = s
	case []byte:
		raw = s
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

// jsonEqual reports deep equality of two JSON documents, independent of key
// order and whitespace.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	return deepEqual(av, bv)
}

func deepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}
		return true

	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true

	default:
		return a == b
	}
}
