// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"fmt"
	"io"

	"github.com/ycollab/ycollab-go/lib0"
)

// AuthPermissionDenied is the only defined auth type code, uint 0. Its
// payload is a reason string.
const AuthPermissionDenied uint64 = 0

// AuthMessage tells a client that it may not access the requested document.
//
// The core never initiates authentication; it only receives this verdict and
// hands the reason to a configurable callback.
type AuthMessage struct {
	Reason string
}

// Type code of an AuthMessage.
func (m *AuthMessage) Type() uint64 {
	return MsgAuth
}

func (m *AuthMessage) String() string {
	return fmt.Sprintf("auth[permission denied: %s]", m.Reason)
}

func (m *AuthMessage) MarshalLib0(w io.Writer) (err error) {
	if err = lib0.WriteUint(AuthPermissionDenied, w); err != nil {
		return
	}

	return lib0.WriteString(m.Reason, w)
}

func (m *AuthMessage) UnmarshalLib0(r io.Reader) (err error) {
	typeCode, typeErr := lib0.ReadUint(r)
	if typeErr != nil {
		return typeErr
	}

	if typeCode != AuthPermissionDenied {
		return &UnknownTypeCodeError{TypeCode: typeCode}
	}

	m.Reason, err = lib0.ReadString(r)
	return
}
