// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package awareness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ycollab/ycollab-go/lib0"
)

// An update blob is a varuint record count followed by records of
// (varuint client id, varuint clock, varstring JSON state). The JSON literal
// null encodes a tombstone.

// updateRecord is one decoded record of an update blob.
type updateRecord struct {
	Client uint32
	Clock  uint32
	State  json.RawMessage // nil for a tombstone
}

func readRecord(r *bytes.Reader) (rec updateRecord, err error) {
	client, err := lib0.ReadUint(r)
	if err != nil {
		return
	}
	clock, err := lib0.ReadUint(r)
	if err != nil {
		return
	}
	if client > math.MaxUint32 || clock > math.MaxUint32 {
		err = fmt.Errorf("record of client %d, clock %d exceeds 32 bit", client, clock)
		return
	}
	state, err := lib0.ReadString(r)
	if err != nil {
		return
	}

	rec = updateRecord{Client: uint32(client), Clock: uint32(clock)}
	if state != "null" {
		rec.State = json.RawMessage(state)
	}
	return
}

func writeRecord(rec updateRecord, buff *bytes.Buffer) error {
	if err := lib0.WriteUint(uint64(rec.Client), buff); err != nil {
		return err
	}
	if err := lib0.WriteUint(uint64(rec.Clock), buff); err != nil {
		return err
	}

	state := "null"
	if rec.State != nil {
		state = string(rec.State)
	}
	return lib0.WriteString(state, buff)
}

// ApplyUpdate merges an incoming update blob into the engine.
//
// A record wins if its clock is greater than the known one, or if it is a
// tombstone with an equal clock for a currently present state. A remote
// attempt to null the local client's live state is answered by bumping the
// local clock instead: the entry survives and the next broadcast re-asserts
// it. Losing records are dropped silently.
func (a *Awareness) ApplyUpdate(update []byte, origin interface{}) error {
	r := bytes.NewReader(update)

	count, err := lib0.ReadUint(r)
	if err != nil {
		return fmt.Errorf("reading record count: %w", err)
	}

	a.mu.Lock()

	now := time.Now()
	var full, filtered ChangeSet

	for i := uint64(0); i < count; i++ {
		rec, recErr := readRecord(r)
		if recErr != nil {
			a.mu.Unlock()
			return fmt.Errorf("reading record %d: %w", i, recErr)
		}

		m, known := a.meta[rec.Client]
		currClock := uint32(0)
		if known {
			currClock = m.Clock
		}
		prev, hasPrev := a.states[rec.Client]

		accept := currClock < rec.Clock ||
			(currClock == rec.Clock && rec.State == nil && hasPrev)
		if !accept {
			continue
		}

		clock := rec.Clock
		if rec.State == nil {
			if rec.Client == a.clientID && a.states[a.clientID] != nil {
				// a remote peer tried to null our live state
				clock++
			} else {
				delete(a.states, rec.Client)
			}
		} else {
			a.states[rec.Client] = rec.State
		}
		a.meta[rec.Client] = MetaClientState{Clock: clock, LastUpdated: now}

		switch {
		case !known && rec.State != nil:
			full.Added = append(full.Added, rec.Client)
			filtered.Added = append(filtered.Added, rec.Client)
		case known && rec.State == nil:
			full.Removed = append(full.Removed, rec.Client)
			filtered.Removed = append(filtered.Removed, rec.Client)
		case rec.State != nil:
			full.Updated = append(full.Updated, rec.Client)
			if !hasPrev || !jsonEqual(prev, rec.State) {
				filtered.Updated = append(filtered.Updated, rec.Client)
			}
		}
	}

	changeFs := a.snapshotListenersLocked(a.changeListeners)
	updateFs := a.snapshotListenersLocked(a.updateListeners)
	a.mu.Unlock()

	a.emit(changeFs, updateFs, filtered, full, origin)

	return nil
}

// EncodeUpdate encodes the current states of the given clients into an
// update blob. A client with an absent state is encoded as a tombstone.
func (a *Awareness) EncodeUpdate(clients []uint32) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.encodeUpdateLocked(clients, a.states)
}

// EncodeUpdateWithStates is EncodeUpdate against an override states map. An
// empty map yields an all-tombstone blob, the leave marker broadcast on
// disconnect.
func (a *Awareness) EncodeUpdateWithStates(clients []uint32, states map[uint32]json.RawMessage) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.encodeUpdateLocked(clients, states)
}

func (a *Awareness) encodeUpdateLocked(clients []uint32, states map[uint32]json.RawMessage) ([]byte, error) {
	var buff bytes.Buffer

	if err := lib0.WriteUint(uint64(len(clients)), &buff); err != nil {
		return nil, err
	}

	for _, client := range clients {
		m, known := a.meta[client]
		if !known {
			// no clock, no record; the whole encode is void
			return nil, fmt.Errorf("client %d has no known clock", client)
		}

		rec := updateRecord{Client: client, Clock: m.Clock, State: states[client]}
		if err := writeRecord(rec, &buff); err != nil {
			return nil, err
		}
	}

	return buff.Bytes(), nil
}

// ModifyUpdate rewrites the states of an update blob through modify, keeping
// client ids and clocks untouched. Relays use this to rewrite identity
// fields before forwarding. A nil state, the tombstone, is passed through
// modify as well; returning nil keeps it a tombstone.
func ModifyUpdate(update []byte, modify func(state json.RawMessage) json.RawMessage) ([]byte, error) {
	r := bytes.NewReader(update)

	count, err := lib0.ReadUint(r)
	if err != nil {
		return nil, err
	}

	var buff bytes.Buffer
	if err := lib0.WriteUint(count, &buff); err != nil {
		return nil, err
	}

	for i := uint64(0); i < count; i++ {
		rec, recErr := readRecord(r)
		if recErr != nil {
			return nil, recErr
		}

		rec.State = modify(rec.State)
		if err := writeRecord(rec, &buff); err != nil {
			return nil, err
		}
	}

	return buff.Bytes(), nil
}
