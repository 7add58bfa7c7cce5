// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"io"

	"github.com/ycollab/ycollab-go/lib0"
)

// AwarenessMessage carries an encoded awareness update blob, see the
// awareness package for the blob's inner structure.
type AwarenessMessage struct {
	Update []byte
}

// NewAwarenessMessage wraps an awareness update blob.
func NewAwarenessMessage(update []byte) *AwarenessMessage {
	return &AwarenessMessage{Update: update}
}

// Type code of an AwarenessMessage.
func (m *AwarenessMessage) Type() uint64 {
	return MsgAwareness
}

func (m *AwarenessMessage) String() string {
	return "awareness"
}

func (m *AwarenessMessage) MarshalLib0(w io.Writer) error {
	return lib0.WriteBytes(m.Update, w)
}

func (m *AwarenessMessage) UnmarshalLib0(r io.Reader) (err error) {
	m.Update, err = lib0.ReadBytes(r)
	return
}

// QueryAwarenessMessage asks a peer to answer with an AwarenessMessage
// covering every client it knows. It carries no payload.
type QueryAwarenessMessage struct{}

// Type code of a QueryAwarenessMessage.
func (m *QueryAwarenessMessage) Type() uint64 {
	return MsgQueryAwareness
}

func (m *QueryAwarenessMessage) String() string {
	return "queryAwareness"
}

func (m *QueryAwarenessMessage) MarshalLib0(_ io.Writer) error {
	return nil
}

func (m *QueryAwarenessMessage) UnmarshalLib0(_ io.Reader) error {
	return nil
}
