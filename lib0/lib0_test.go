// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package lib0

import (
	"bytes"
	"io"
	"math"
	"testing"
)

func TestUint(t *testing.T) {
	tests := []struct {
		n    uint64
		data []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{math.MaxUint32, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
		{math.MaxUint64, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}},
	}

	for _, test := range tests {
		var buff bytes.Buffer
		if err := WriteUint(test.n, &buff); err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(buff.Bytes(), test.data) {
			t.Fatalf("%d: expected %x, got %x", test.n, test.data, buff.Bytes())
		}

		if n, err := ReadUint(&buff); err != nil {
			t.Fatal(err)
		} else if n != test.n {
			t.Fatalf("expected %d, got %d", test.n, n)
		}
	}
}

func TestUintTruncated(t *testing.T) {
	if _, err := ReadUint(bytes.NewReader([]byte{0x80, 0x80})); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}

	if _, err := ReadUint(bytes.NewReader(nil)); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestUintOverlong(t *testing.T) {
	data := bytes.Repeat([]byte{0x80}, 11)
	if _, err := ReadUint(bytes.NewReader(data)); err == nil {
		t.Fatal("expected an error for an overlong varuint")
	}
}

func TestBytes(t *testing.T) {
	tests := []struct {
		raw  []byte
		data []byte
	}{
		{[]byte{}, []byte{0x00}},
		{[]byte{0xAA}, []byte{0x01, 0xAA}},
		{[]byte("abc"), []byte{0x03, 0x61, 0x62, 0x63}},
	}

	for _, test := range tests {
		var buff bytes.Buffer
		if err := WriteBytes(test.raw, &buff); err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(buff.Bytes(), test.data) {
			t.Fatalf("expected %x, got %x", test.data, buff.Bytes())
		}

		if raw, err := ReadBytes(&buff); err != nil {
			t.Fatal(err)
		} else if !bytes.Equal(raw, test.raw) {
			t.Fatalf("expected %x, got %x", test.raw, raw)
		}
	}
}

func TestBytesTruncated(t *testing.T) {
	// announced length of five, only one byte follows
	if _, err := ReadBytes(bytes.NewReader([]byte{0x05, 0x01})); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestString(t *testing.T) {
	var buff bytes.Buffer
	if err := WriteString("wörld", &buff); err != nil {
		t.Fatal(err)
	}

	if s, err := ReadString(&buff); err != nil {
		t.Fatal(err)
	} else if s != "wörld" {
		t.Fatalf("expected wörld, got %s", s)
	}
}
