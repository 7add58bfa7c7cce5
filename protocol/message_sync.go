// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"fmt"
	"io"

	"github.com/ycollab/ycollab-go/lib0"
)

const (
	// SyncStep1 is a SyncStep1Message type code, uint 0.
	SyncStep1 uint64 = 0

	// SyncStep2 is a SyncStep2Message type code, uint 1.
	SyncStep2 uint64 = 1

	// SyncUpdate is a SyncUpdateMessage type code, uint 2.
	SyncUpdate uint64 = 2
)

// SyncType is an implementation of a SyncMessage's inner message, identified
// by its own type code.
type SyncType interface {
	// SyncType code of this inner message.
	SyncType() uint64

	fmt.Stringer
	lib0.Marshaler
}

// SyncMessage carries one step of the document synchronization protocol.
//
// The payload is a second varuint type code followed by a length-prefixed
// blob, either a state vector or a document update.
type SyncMessage struct {
	Sync SyncType
}

// Type code of a SyncMessage.
func (m *SyncMessage) Type() uint64 {
	return MsgSync
}

func (m *SyncMessage) String() string {
	return fmt.Sprintf("sync[%v]", m.Sync)
}

// MarshalLib0 writes the inner type code followed by the inner message.
func (m *SyncMessage) MarshalLib0(w io.Writer) (err error) {
	if err = lib0.WriteUint(m.Sync.SyncType(), w); err != nil {
		return
	}

	return lib0.Marshal(m.Sync, w)
}

// UnmarshalLib0 reads a sync frame's payload back to a SyncMessage.
func (m *SyncMessage) UnmarshalLib0(r io.Reader) (err error) {
	typeCode, typeErr := lib0.ReadUint(r)
	if typeErr != nil {
		return typeErr
	}

	switch typeCode {
	case SyncStep1:
		m.Sync = new(SyncStep1Message)
	case SyncStep2:
		m.Sync = new(SyncStep2Message)
	case SyncUpdate:
		m.Sync = new(SyncUpdateMessage)
	default:
		return &UnknownTypeCodeError{TypeCode: typeCode}
	}

	return lib0.Unmarshal(m.Sync, r)
}

// SyncStep1Message opens the handshake and carries the sender's state vector.
type SyncStep1Message struct {
	StateVector []byte
}

// SyncType code of a SyncStep1Message.
func (m *SyncStep1Message) SyncType() uint64 {
	return SyncStep1
}

func (m *SyncStep1Message) String() string {
	return "syncStep1"
}

func (m *SyncStep1Message) MarshalLib0(w io.Writer) error {
	return lib0.WriteBytes(m.StateVector, w)
}

func (m *SyncStep1Message) UnmarshalLib0(r io.Reader) (err error) {
	m.StateVector, err = lib0.ReadBytes(r)
	return
}

// SyncStep2Message answers a SyncStep1Message with a document update computed
// against the received state vector.
type SyncStep2Message struct {
	Update []byte
}

// SyncType code of a SyncStep2Message.
func (m *SyncStep2Message) SyncType() uint64 {
	return SyncStep2
}

func (m *SyncStep2Message) String() string {
	return "syncStep2"
}

func (m *SyncStep2Message) MarshalLib0(w io.Writer) error {
	return lib0.WriteBytes(m.Update, w)
}

func (m *SyncStep2Message) UnmarshalLib0(r io.Reader) (err error) {
	m.Update, err = lib0.ReadBytes(r)
	return
}

// SyncUpdateMessage carries an incremental document update outside the
// handshake. It shares the receiver's apply path with SyncStep2Message, but
// must never conclude a handshake.
type SyncUpdateMessage struct {
	Update []byte
}

// SyncType code of a SyncUpdateMessage.
func (m *SyncUpdateMessage) SyncType() uint64 {
	return SyncUpdate
}

func (m *SyncUpdateMessage) String() string {
	return "update"
}

func (m *SyncUpdateMessage) MarshalLib0(w io.Writer) error {
	return lib0.WriteBytes(m.Update, w)
}

func (m *SyncUpdateMessage) UnmarshalLib0(r io.Reader) (err error) {
	m.Update, err = lib0.ReadBytes(r)
	return
}
