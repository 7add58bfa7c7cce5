// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ycollab/ycollab-go/awareness"
	"github.com/ycollab/ycollab-go/bus"
	"github.com/ycollab/ycollab-go/doc"
	"github.com/ycollab/ycollab-go/protocol"
)

// fakeSocket is a scriptable Socket: the test feeds frames into incoming and
// inspects what the Provider wrote through outgoing.
type fakeSocket struct {
	incoming chan []byte
	outgoing chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		incoming: make(chan []byte, 16),
		outgoing: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case frame := <-s.incoming:
		return frame, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	select {
	case s.outgoing <- data:
		return nil
	case <-s.closed:
		return errors.New("socket closed")
	}
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// fakeDialer hands out one fakeSocket per dial.
type fakeDialer struct {
	mu    sync.Mutex
	socks []*fakeSocket
	dials int
}

func (d *fakeDialer) dial(_ context.Context, _ string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	sock := newFakeSocket()
	d.socks = append(d.socks, sock)
	return sock, nil
}

// sock returns the i-th handed out socket, waiting for the dial to happen.
func (d *fakeDialer) sock(t *testing.T, i int) *fakeSocket {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for {
		d.mu.Lock()
		if len(d.socks) > i {
			sock := d.socks[i]
			d.mu.Unlock()
			return sock
		}
		d.mu.Unlock()

		if time.Now().After(deadline) {
			t.Fatalf("dial no. %d did not happen", i)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestProvider(t *testing.T, d doc.Doc, opts *Options) (*Provider, *fakeDialer) {
	t.Helper()

	if opts == nil {
		opts = &Options{}
	}
	dialer := &fakeDialer{}
	opts.Dialer = dialer.dial
	if opts.Bus == nil {
		opts.Bus = bus.NewInProcess()
	}
	opts.DisableBroadcast = true

	p, err := New("ws://localhost/collab", "room", d, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Destroy() })

	return p, dialer
}

func recvFrame(t *testing.T, sock *fakeSocket) *protocol.Message {
	t.Helper()

	select {
	case frame := <-sock.outgoing:
		msg, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decoding outgoing frame errored: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no outgoing frame")
		return nil
	}
}

func sendFrame(t *testing.T, sock *fakeSocket, mt protocol.MessageType) {
	t.Helper()

	frame, err := protocol.Encode(mt)
	if err != nil {
		t.Fatal(err)
	}
	sock.incoming <- frame
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProviderHandshake(t *testing.T) {
	d := doc.NewMemDoc()
	if err := d.Append([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	p, dialer := newTestProvider(t, d, nil)

	var mu sync.Mutex
	var syncEvents, syncedEvents []bool
	p.OnSync(func(state bool) {
		mu.Lock()
		syncEvents = append(syncEvents, state)
		mu.Unlock()
	})
	p.OnSynced(func(state bool) {
		mu.Lock()
		syncedEvents = append(syncedEvents, state)
		mu.Unlock()
	})

	sock := dialer.sock(t, 0)

	// a fresh connection opens with sync step 1 carrying the state vector
	msg := recvFrame(t, sock)
	sm, ok := msg.MessageType.(*protocol.SyncMessage)
	if !ok {
		t.Fatalf("expected a sync message, got %v", msg)
	}
	step1, ok := sm.Sync.(*protocol.SyncStep1Message)
	if !ok {
		t.Fatalf("expected sync step 1, got %v", sm)
	}
	sv, err := d.EncodeStateVector()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(step1.StateVector, sv) {
		t.Fatalf("state vector mismatch: %x != %x", step1.StateVector, sv)
	}

	// the local awareness state follows
	msg = recvFrame(t, sock)
	if _, ok := msg.MessageType.(*protocol.AwarenessMessage); !ok {
		t.Fatalf("expected an awareness message, got %v", msg)
	}

	if p.Synced() {
		t.Fatal("synced before the server's sync step 2")
	}

	// the server's sync step 2 concludes the handshake
	remote := doc.NewMemDoc()
	if err := remote.Append([]byte("world")); err != nil {
		t.Fatal(err)
	}
	update, err := remote.EncodeStateAsUpdate(nil)
	if err != nil {
		t.Fatal(err)
	}
	sendFrame(t, sock, &protocol.SyncMessage{Sync: &protocol.SyncStep2Message{Update: update}})

	waitFor(t, "synced", p.Synced)
	if d.Len() != 2 {
		t.Fatalf("expected both entries, got %d", d.Len())
	}

	// a second step 2 must not fire the synced event again
	sendFrame(t, sock, &protocol.SyncMessage{Sync: &protocol.SyncStep2Message{Update: update}})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(syncedEvents) != 1 || !syncedEvents[0] {
		t.Fatalf("expected one rising synced event, got %v", syncedEvents)
	}
	if len(syncEvents) != 1 || !syncEvents[0] {
		t.Fatalf("expected one sync event, got %v", syncEvents)
	}
}

func TestProviderAnswersSyncStep1(t *testing.T) {
	d := doc.NewMemDoc()
	if err := d.Append([]byte("payload")); err != nil {
		t.Fatal(err)
	}

	_, dialer := newTestProvider(t, d, nil)
	sock := dialer.sock(t, 0)

	recvFrame(t, sock) // own step 1
	recvFrame(t, sock) // own awareness

	sendFrame(t, sock, &protocol.SyncMessage{Sync: &protocol.SyncStep1Message{StateVector: nil}})

	msg := recvFrame(t, sock)
	sm, ok := msg.MessageType.(*protocol.SyncMessage)
	if !ok {
		t.Fatalf("expected a sync message, got %v", msg)
	}
	step2, ok := sm.Sync.(*protocol.SyncStep2Message)
	if !ok {
		t.Fatalf("expected sync step 2, got %v", sm)
	}

	other := doc.NewMemDoc()
	if err := other.ApplyUpdate(step2.Update, nil); err != nil {
		t.Fatal(err)
	}
	if other.Len() != 1 {
		t.Fatalf("expected the full state in the reply, got %d entries", other.Len())
	}
}

func TestProviderAnswersQueryAwareness(t *testing.T) {
	d := doc.NewMemDoc()
	p, dialer := newTestProvider(t, d, nil)
	sock := dialer.sock(t, 0)

	recvFrame(t, sock)
	recvFrame(t, sock)

	sendFrame(t, sock, new(protocol.QueryAwarenessMessage))

	msg := recvFrame(t, sock)
	am, ok := msg.MessageType.(*protocol.AwarenessMessage)
	if !ok {
		t.Fatalf("expected an awareness message, got %v", msg)
	}

	// the snapshot must carry the local client's state
	if err := p.Awareness().ApplyUpdate(am.Update, "test"); err != nil {
		t.Fatal(err)
	}
}

func TestProviderLocalUpdateSent(t *testing.T) {
	d := doc.NewMemDoc()
	_, dialer := newTestProvider(t, d, nil)
	sock := dialer.sock(t, 0)

	recvFrame(t, sock)
	recvFrame(t, sock)

	if err := d.Append([]byte("local change")); err != nil {
		t.Fatal(err)
	}

	msg := recvFrame(t, sock)
	sm, ok := msg.MessageType.(*protocol.SyncMessage)
	if !ok {
		t.Fatalf("expected a sync message, got %v", msg)
	}
	if _, ok := sm.Sync.(*protocol.SyncUpdateMessage); !ok {
		t.Fatalf("expected a sync update, got %v", sm)
	}
}

func TestProviderEchoSuppression(t *testing.T) {
	d := doc.NewMemDoc()
	_, dialer := newTestProvider(t, d, nil)
	sock := dialer.sock(t, 0)

	recvFrame(t, sock)
	recvFrame(t, sock)

	remote := doc.NewMemDoc()
	if err := remote.Append([]byte("remote change")); err != nil {
		t.Fatal(err)
	}
	update, err := remote.EncodeStateAsUpdate(nil)
	if err != nil {
		t.Fatal(err)
	}
	sendFrame(t, sock, &protocol.SyncMessage{Sync: &protocol.SyncUpdateMessage{Update: update}})

	waitFor(t, "update applied", func() bool { return d.Len() == 1 })

	// the received update must not be echoed back
	select {
	case frame := <-sock.outgoing:
		t.Fatalf("received update was echoed: %x", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProviderPermissionDenied(t *testing.T) {
	d := doc.NewMemDoc()

	reasons := make(chan string, 1)
	_, dialer := newTestProvider(t, d, &Options{
		PermissionDeniedHandler: func(reason string) { reasons <- reason },
	})
	sock := dialer.sock(t, 0)

	recvFrame(t, sock)
	recvFrame(t, sock)

	sendFrame(t, sock, &protocol.AuthMessage{Reason: "room is read-only"})

	select {
	case reason := <-reasons:
		if reason != "room is read-only" {
			t.Fatalf("unexpected reason: %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("permission denied handler was not called")
	}
}

func TestProviderReconnect(t *testing.T) {
	d := doc.NewMemDoc()
	p, dialer := newTestProvider(t, d, nil)
	sock := dialer.sock(t, 0)

	recvFrame(t, sock)
	recvFrame(t, sock)

	// a remote peer's presence must not survive the connection
	remoteAw := p.Awareness()
	peer := awareness.New(0x0BADCAFE)
	blob, err := peer.EncodeUpdate([]uint32{peer.ClientID()})
	peer.Destroy()
	if err != nil {
		t.Fatal(err)
	}
	if err := remoteAw.ApplyUpdate(blob, "test"); err != nil {
		t.Fatal(err)
	}

	remote := doc.NewMemDoc()
	if err := remote.Append([]byte("x")); err != nil {
		t.Fatal(err)
	}
	update, err := remote.EncodeStateAsUpdate(nil)
	if err != nil {
		t.Fatal(err)
	}
	sendFrame(t, sock, &protocol.SyncMessage{Sync: &protocol.SyncStep2Message{Update: update}})
	waitFor(t, "synced", p.Synced)

	closeErrs := make(chan error, 1)
	p.OnConnectionClose(func(err error) { closeErrs <- err })

	_ = sock.Close()

	select {
	case <-closeErrs:
	case <-time.After(time.Second):
		t.Fatal("connection close event missing")
	}

	waitFor(t, "synced reset", func() bool { return !p.Synced() })
	waitFor(t, "remote presence evicted", func() bool {
		return len(remoteAw.States()) == 1
	})

	// the backoff timer redials and the handshake restarts
	sock2 := dialer.sock(t, 1)
	msg := recvFrame(t, sock2)
	sm, ok := msg.MessageType.(*protocol.SyncMessage)
	if !ok {
		t.Fatalf("expected a sync message, got %v", msg)
	}
	if _, ok := sm.Sync.(*protocol.SyncStep1Message); !ok {
		t.Fatalf("expected sync step 1 on reconnect, got %v", sm)
	}

	waitFor(t, "connected again", func() bool { return p.Status() == StatusConnected })
}

func TestProviderWatchdog(t *testing.T) {
	d := doc.NewMemDoc()
	_, dialer := newTestProvider(t, d, &Options{
		MessageReconnectTimeout: 100 * time.Millisecond,
	})

	sock := dialer.sock(t, 0)
	recvFrame(t, sock)

	// total silence forces the watchdog to close and redial
	dialer.sock(t, 1)
}

func TestBackoffDelay(t *testing.T) {
	max := DefaultMaxBackoffTime

	tests := []struct {
		n        uint
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2500 * time.Millisecond},
		{6, 2500 * time.Millisecond},
		{64, 2500 * time.Millisecond},
	}

	for _, test := range tests {
		if delay := backoffDelay(test.n, max); delay != test.expected {
			t.Errorf("backoffDelay(%d) = %v, expected %v", test.n, delay, test.expected)
		}
	}
}

func TestProviderDestroyIdempotent(t *testing.T) {
	d := doc.NewMemDoc()
	p, _ := newTestProvider(t, d, nil)

	if err := p.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatal(err)
	}
}
