// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package protocol implements the framed message format spoken between Yjs
// collaboration peers, both over the server transport and over the local
// broadcast bus. One transport message carries exactly one frame; a frame is
// a varuint type code followed by the type's payload.
package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ycollab/ycollab-go/lib0"
)

const (
	// MsgSync is a SyncMessage type code, uint 0.
	MsgSync uint64 = 0

	// MsgAwareness is an AwarenessMessage type code, uint 1.
	MsgAwareness uint64 = 1

	// MsgAuth is an AuthMessage type code, uint 2.
	MsgAuth uint64 = 2

	// MsgQueryAwareness is a QueryAwarenessMessage type code, uint 3.
	MsgQueryAwareness uint64 = 3
)

// MessageType is an implementation of a Message, identified by its type code.
type MessageType interface {
	// Type code of this MessageType.
	Type() uint64

	fmt.Stringer
	lib0.Marshaler
}

// Message is the data structure to be exchanged between two peers.
//
// A message consists of two fields: a type code to identify the specific
// Message data and the data itself.
type Message struct {
	MessageType MessageType
}

// Type code of the MessageType.
func (m Message) Type() uint64 {
	return m.MessageType.Type()
}

func (m Message) String() string {
	return m.MessageType.String()
}

// UnknownTypeCodeError signals a type code without a known MessageType.
//
// Such a frame is dropped by the receiver; it is not a framing error.
type UnknownTypeCodeError struct {
	TypeCode uint64
}

func (e *UnknownTypeCodeError) Error() string {
	return fmt.Sprintf("message type code %d is undefined", e.TypeCode)
}

// MarshalLib0 writes the type code followed by the MessageType representation.
func (m *Message) MarshalLib0(w io.Writer) (err error) {
	if err = lib0.WriteUint(m.Type(), w); err != nil {
		return
	}
	if err = lib0.Marshal(m.MessageType, w); err != nil {
		return
	}

	return
}

// UnmarshalLib0 reads a frame back to a Message.
func (m *Message) UnmarshalLib0(r io.Reader) (err error) {
	typeCode, typeErr := lib0.ReadUint(r)
	if typeErr != nil {
		return typeErr
	}

	switch typeCode {
	case MsgSync:
		m.MessageType = new(SyncMessage)
	case MsgAwareness:
		m.MessageType = new(AwarenessMessage)
	case MsgAuth:
		m.MessageType = new(AuthMessage)
	case MsgQueryAwareness:
		m.MessageType = new(QueryAwarenessMessage)
	default:
		return &UnknownTypeCodeError{TypeCode: typeCode}
	}

	return lib0.Unmarshal(m.MessageType, r)
}

// Encode a MessageType into a single frame.
func Encode(mt MessageType) ([]byte, error) {
	var buff bytes.Buffer

	m := Message{MessageType: mt}
	if err := lib0.Marshal(&m, &buff); err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// Decode one frame back into a Message.
func Decode(frame []byte) (*Message, error) {
	m := new(Message)
	if err := lib0.Unmarshal(m, bytes.NewReader(frame)); err != nil {
		return nil, err
	}

	return m, nil
}
