// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package doc

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/ycollab/ycollab-go/lib0"
)

// MemDoc is a minimal in-memory document engine: a grow-only log of opaque
// payloads per client. It exists so that the transport core can be exercised
// and demonstrated without a full CRDT implementation; its wire blobs are
// specific to MemDoc, not Yjs document updates.
//
// State vector: varuint client count, then (varuint client id, varuint
// number of entries seen). Update: varuint entry count, then (varuint client
// id, varuint sequence number, varbytes payload).
type MemDoc struct {
	clientID uint32

	mu  sync.Mutex
	ops map[uint32][][]byte

	updateListeners  map[int]func(update []byte, origin interface{})
	destroyListeners map[int]func()
	nextListenerID   int

	destroyOnce sync.Once
}

// NewMemDoc creates an empty MemDoc with a random client id.
func NewMemDoc() *MemDoc {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}

	return NewMemDocWithClientID(binary.BigEndian.Uint32(buf[:]))
}

// NewMemDocWithClientID creates an empty MemDoc with the given client id.
func NewMemDocWithClientID(clientID uint32) *MemDoc {
	return &MemDoc{
		clientID: clientID,

		ops: make(map[uint32][][]byte),

		updateListeners:  make(map[int]func(update []byte, origin interface{})),
		destroyListeners: make(map[int]func()),
	}
}

// ClientID of this replica.
func (d *MemDoc) ClientID() uint32 {
	return d.clientID
}

// entry is one (client, seq, payload) triple of an update blob.
type entry struct {
	client  uint32
	seq     uint64
	payload []byte
}

func encodeEntries(entries []entry) ([]byte, error) {
	var buff bytes.Buffer

	if err := lib0.WriteUint(uint64(len(entries)), &buff); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := lib0.WriteUint(uint64(e.client), &buff); err != nil {
			return nil, err
		}
		if err := lib0.WriteUint(e.seq, &buff); err != nil {
			return nil, err
		}
		if err := lib0.WriteBytes(e.payload, &buff); err != nil {
			return nil, err
		}
	}

	return buff.Bytes(), nil
}

func decodeEntries(update []byte) (entries []entry, err error) {
	r := bytes.NewReader(update)

	count, err := lib0.ReadUint(r)
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < count; i++ {
		var e entry

		client, clientErr := lib0.ReadUint(r)
		if clientErr != nil {
			return nil, clientErr
		}
		e.client = uint32(client)

		if e.seq, err = lib0.ReadUint(r); err != nil {
			return nil, err
		}
		if e.payload, err = lib0.ReadBytes(r); err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// sortedClients returns the document's client ids in ascending order for a
// deterministic encoding.
func (d *MemDoc) sortedClientsLocked() []uint32 {
	clients := make([]uint32, 0, len(d.ops))
	for client := range d.ops {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

// EncodeStateVector encodes the number of entries seen per client.
func (d *MemDoc) EncodeStateVector() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buff bytes.Buffer
	if err := lib0.WriteUint(uint64(len(d.ops)), &buff); err != nil {
		return nil, err
	}
	for _, client := range d.sortedClientsLocked() {
		if err := lib0.WriteUint(uint64(client), &buff); err != nil {
			return nil, err
		}
		if err := lib0.WriteUint(uint64(len(d.ops[client])), &buff); err != nil {
			return nil, err
		}
	}

	return buff.Bytes(), nil
}

// EncodeStateAsUpdate encodes every entry the remote state vector is missing.
func (d *MemDoc) EncodeStateAsUpdate(remoteStateVector []byte) ([]byte, error) {
	seen := make(map[uint32]uint64)
	if remoteStateVector != nil {
		r := bytes.NewReader(remoteStateVector)

		count, err := lib0.ReadUint(r)
		if err != nil {
			return nil, fmt.Errorf("reading state vector: %w", err)
		}
		for i := uint64(0); i < count; i++ {
			client, clientErr := lib0.ReadUint(r)
			if clientErr != nil {
				return nil, fmt.Errorf("reading state vector: %w", clientErr)
			}
			n, nErr := lib0.ReadUint(r)
			if nErr != nil {
				return nil, fmt.Errorf("reading state vector: %w", nErr)
			}
			seen[uint32(client)] = n
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var missing []entry
	for _, client := range d.sortedClientsLocked() {
		log := d.ops[client]
		for seq := seen[client]; seq < uint64(len(log)); seq++ {
			missing = append(missing, entry{client: client, seq: seq, payload: log[seq]})
		}
	}

	return encodeEntries(missing)
}

// ApplyUpdate merges an update blob. Already known entries are skipped, so
// applying the same update twice is harmless. If anything new was applied,
// update listeners receive a re-encoded blob of exactly the new entries
// together with the given origin.
func (d *MemDoc) ApplyUpdate(update []byte, origin interface{}) error {
	entries, err := decodeEntries(update)
	if err != nil {
		return err
	}

	d.mu.Lock()

	var applied []entry
	for _, e := range entries {
		log := d.ops[e.client]
		if e.seq != uint64(len(log)) {
			// duplicate or out-of-order entry; a complete suffix never gaps
			continue
		}
		d.ops[e.client] = append(log, e.payload)
		applied = append(applied, e)
	}

	fs := d.snapshotUpdateListenersLocked()
	d.mu.Unlock()

	if len(applied) == 0 {
		return nil
	}

	appliedUpdate, err := encodeEntries(applied)
	if err != nil {
		return err
	}
	for _, f := range fs {
		f(appliedUpdate, origin)
	}

	return nil
}

// Append adds a payload to the local client's log, the MemDoc equivalent of
// a local edit. Update listeners receive the new entry with a nil origin.
func (d *MemDoc) Append(payload []byte) error {
	d.mu.Lock()

	e := entry{client: d.clientID, seq: uint64(len(d.ops[d.clientID])), payload: payload}
	d.ops[d.clientID] = append(d.ops[d.clientID], payload)

	fs := d.snapshotUpdateListenersLocked()
	d.mu.Unlock()

	update, err := encodeEntries([]entry{e})
	if err != nil {
		return err
	}
	for _, f := range fs {
		f(update, nil)
	}

	return nil
}

// Snapshot returns a copy of all logs.
func (d *MemDoc) Snapshot() map[uint32][][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := make(map[uint32][][]byte, len(d.ops))
	for client, log := range d.ops {
		snapshot[client] = append([][]byte(nil), log...)
	}
	return snapshot
}

// Len returns the total number of entries.
func (d *MemDoc) Len() (n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, log := range d.ops {
		n += len(log)
	}
	return
}

func (d *MemDoc) snapshotUpdateListenersLocked() []func(update []byte, origin interface{}) {
	fs := make([]func(update []byte, origin interface{}), 0, len(d.updateListeners))
	for _, f := range d.updateListeners {
		fs = append(fs, f)
	}
	return fs
}

// OnUpdate registers f for every applied or appended update.
func (d *MemDoc) OnUpdate(f func(update []byte, origin interface{})) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextListenerID
	d.nextListenerID++
	d.updateListeners[id] = f

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		delete(d.updateListeners, id)
	}
}

// OnDestroy registers f for the document's destruction.
func (d *MemDoc) OnDestroy(f func()) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextListenerID
	d.nextListenerID++
	d.destroyListeners[id] = f

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		delete(d.destroyListeners, id)
	}
}

// Destroy fires the destroy listeners once.
func (d *MemDoc) Destroy() {
	d.destroyOnce.Do(func() {
		d.mu.Lock()
		fs := make([]func(), 0, len(d.destroyListeners))
		for _, f := range d.destroyListeners {
			fs = append(fs, f)
		}
		d.mu.Unlock()

		for _, f := range fs {
			f()
		}
	})
}
