// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package lib0 implements the binary encoding primitives of the Yjs wire
// format: little-endian base-128 varuints and length-prefixed byte strings.
// The encoding is bit-exact with the lib0 JavaScript library, which every
// Yjs peer speaks.
package lib0

import (
	"fmt"
	"io"
)

// maxVarUintLen is the greatest byte length of an encoded uint64.
const maxVarUintLen = 10

// maxByteStringLen bounds the announced length of a byte string to keep a
// corrupted frame from provoking a huge allocation.
const maxByteStringLen = 1 << 30

// WriteUint serializes n as a little-endian base-128 varuint: seven bits per
// byte, the high bit flags a continuation.
func WriteUint(n uint64, w io.Writer) error {
	var buf [maxVarUintLen]byte

	i := 0
	for ; n >= 0x80; i++ {
		buf[i] = byte(n) | 0x80
		n >>= 7
	}
	buf[i] = byte(n)

	_, err := w.Write(buf[: i+1 : i+1])
	return err
}

// ReadUint deserializes a varuint written by WriteUint.
func ReadUint(r io.Reader) (n uint64, err error) {
	var buf [1]byte

	for shift := 0; ; shift += 7 {
		if shift >= maxVarUintLen*7 {
			return 0, fmt.Errorf("lib0: varuint is longer than %d bytes", maxVarUintLen)
		}

		if _, err = io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF && shift > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}

		n |= uint64(buf[0]&0x7F) << shift
		if buf[0] < 0x80 {
			return n, nil
		}
	}
}

// WriteBytes serializes data as a varuint length followed by the raw bytes.
func WriteBytes(data []byte, w io.Writer) error {
	if err := WriteUint(uint64(len(data)), w); err != nil {
		return err
	}

	_, err := w.Write(data)
	return err
}

// ReadBytes deserializes a length-prefixed byte string.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadUint(r)
	if err != nil {
		return nil, err
	} else if n > maxByteStringLen {
		return nil, fmt.Errorf("lib0: byte string length %d exceeds maximum", n)
	}

	data := make([]byte, n)
	if _, err = io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return data, nil
}

// WriteString serializes s as a length-prefixed UTF-8 string.
func WriteString(s string, w io.Writer) error {
	return WriteBytes([]byte(s), w)
}

// ReadString deserializes a length-prefixed UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}
