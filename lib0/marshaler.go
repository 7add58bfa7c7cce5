// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package lib0

import "io"

// Marshaler is the interface to be implemented by types which know their own
// lib0 wire representation.
type Marshaler interface {
	MarshalLib0(w io.Writer) error
	UnmarshalLib0(r io.Reader) error
}

// Marshal writes m's lib0 representation into w.
func Marshal(m Marshaler, w io.Writer) error {
	return m.MarshalLib0(w)
}

// Unmarshal reads m's lib0 representation back from r.
func Unmarshal(m Marshaler, r io.Reader) error {
	return m.UnmarshalLib0(r)
}
