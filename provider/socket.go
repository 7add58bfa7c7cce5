// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package provider

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Socket is one established bidirectional frame stream. One message carries
// exactly one frame.
type Socket interface {
	// ReadMessage blocks until the next frame arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close the socket; a blocked ReadMessage returns with an error
	// afterwards. Close is safe to call more than once.
	Close() error
}

// Dialer opens a Socket to the given URL. It is the Provider's injection
// point for alternative transports.
type Dialer func(ctx context.Context, url string) (Socket, error)

// websocketSocket adapts a gorilla websocket connection to the Socket
// interface.
type websocketSocket struct {
	conn *websocket.Conn

	writeMutex sync.Mutex
}

func (s *websocketSocket) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		// non-binary and empty messages are keepalive noise, not frames
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		return data, nil
	}
}

func (s *websocketSocket) WriteMessage(data []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *websocketSocket) Close() error {
	return s.conn.Close()
}

// WebsocketDialer creates a Dialer on top of a gorilla websocket dialer.
// Passing nil uses websocket.DefaultDialer.
func WebsocketDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}

	return func(ctx context.Context, url string) (Socket, error) {
		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}

		return &websocketSocket{conn: conn}, nil
	}
}
