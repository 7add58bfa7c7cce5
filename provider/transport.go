// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package provider

import (
	"errors"
	"time"

	"github.com/ycollab/ycollab-go/protocol"
)

// backoffDelay is the reconnect pause after n unsuccessful attempts: 100ms
// doubled per attempt, capped at max.
func backoffDelay(n uint, max time.Duration) time.Duration {
	delay := 100 * time.Millisecond
	for ; n > 0 && delay < max; n-- {
		delay *= 2
	}
	if delay > max {
		delay = max
	}

	return delay
}

// connectSocket starts dialing unless a socket already exists or a dial is
// in flight. It is both the entry point of Connect and the reconnect timer's
// callback.
func (p *Provider) connectSocket() {
	p.mu.Lock()

	if p.destroyed || !p.shouldConnect || p.dialing || p.sock != nil {
		p.mu.Unlock()
		return
	}

	p.dialing = true
	p.epoch++
	epoch := p.epoch

	fireSync := p.setSyncedLocked(false)
	var statusFs []func(Status)
	if p.status != StatusConnecting {
		p.status = StatusConnecting
		statusFs = snapshotListeners(p.statusListeners)
	}
	p.mu.Unlock()

	fireSync()
	for _, f := range statusFs {
		f(StatusConnecting)
	}

	go p.runSocket(epoch)
}

// runSocket dials, performs the handshake and pumps frames until the socket
// dies. Everything it observes is tagged with its epoch; state mutations of
// an outdated epoch are discarded.
func (p *Provider) runSocket(epoch uint64) {
	sock, err := p.dialer(p.ctx, p.url)

	p.mu.Lock()
	if epoch != p.epoch || p.destroyed || !p.shouldConnect {
		// abandoned attempt; release the dialing flag so a later
		// Connect can open a fresh socket
		if epoch == p.epoch {
			p.dialing = false
		}
		p.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		return
	}

	if err != nil {
		errorFs := snapshotListeners(p.connErrorListeners)
		p.mu.Unlock()

		p.logger().WithError(err).Info("Dialing errored")
		for _, f := range errorFs {
			f(err)
		}

		p.socketClosed(epoch, err)
		return
	}

	p.sock = sock
	p.dialing = false
	p.status = StatusConnected
	p.unsuccessfulReconnects = 0
	p.lastMessageReceived = time.Now()
	statusFs := snapshotListeners(p.statusListeners)
	p.mu.Unlock()

	p.logger().Info("Connection established")
	for _, f := range statusFs {
		f(StatusConnected)
	}

	p.sendHandshake(sock)

	for {
		frame, readErr := sock.ReadMessage()
		if readErr != nil {
			p.socketClosed(epoch, readErr)
			return
		}

		p.handleSocketFrame(sock, frame)
	}
}

// sendHandshake opens the sync conversation on a fresh connection: sync step
// 1 with the local state vector, followed by the local awareness state, if
// one exists.
func (p *Provider) sendHandshake(sock Socket) {
	sv, err := p.d.EncodeStateVector()
	if err != nil {
		p.logger().WithError(err).Warn("Encoding state vector errored")
		return
	}

	frame, err := protocol.Encode(&protocol.SyncMessage{Sync: &protocol.SyncStep1Message{StateVector: sv}})
	if err != nil {
		p.logger().WithError(err).Warn("Encoding sync step 1 errored")
		return
	}
	if err := sock.WriteMessage(frame); err != nil {
		p.logger().WithError(err).Warn("Sending sync step 1 errored, closing socket")
		_ = sock.Close()
		return
	}

	if p.aw.LocalState() == nil {
		return
	}

	blob, err := p.aw.EncodeUpdate([]uint32{p.aw.ClientID()})
	if err != nil {
		p.logger().WithError(err).Warn("Encoding awareness state errored")
		return
	}
	frame, err = protocol.Encode(protocol.NewAwarenessMessage(blob))
	if err != nil {
		p.logger().WithError(err).Warn("Encoding awareness frame errored")
		return
	}
	if err := sock.WriteMessage(frame); err != nil {
		p.logger().WithError(err).Warn("Sending awareness state errored, closing socket")
		_ = sock.Close()
	}
}

// handleSocketFrame processes one frame from the transport. Replies go back
// over the same socket.
func (p *Provider) handleSocketFrame(sock Socket, frame []byte) {
	p.handlerMutex.Lock()
	defer p.handlerMutex.Unlock()

	p.mu.Lock()
	p.lastMessageReceived = time.Now()
	p.mu.Unlock()

	msg, err := protocol.Decode(frame)
	if err != nil {
		var unknownType *protocol.UnknownTypeCodeError
		if errors.As(err, &unknownType) {
			p.logger().WithError(err).Warn("Dropping frame of unknown type")
			return
		}

		p.logger().WithError(err).Warn("Decoding frame errored, closing socket")
		_ = sock.Close()
		return
	}

	reply, fire := p.handleMessage(msg, true)
	if reply != nil {
		replyFrame, err := protocol.Encode(reply)
		if err != nil {
			p.logger().WithError(err).Warn("Encoding reply errored")
		} else if err := sock.WriteMessage(replyFrame); err != nil {
			p.logger().WithError(err).Warn("Sending reply errored, closing socket")
			_ = sock.Close()
		}
	}

	fire()
}

// socketClosed concludes a connection epoch, both for failed dials and for
// dead established connections, and schedules the next attempt.
func (p *Provider) socketClosed(epoch uint64, cause error) {
	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return
	}

	wasConnected := p.status == StatusConnected
	p.sock = nil
	p.dialing = false

	closeFs := snapshotListeners(p.connCloseListeners)
	var statusFs []func(Status)
	fireSync := func() {}

	if wasConnected {
		p.status = StatusDisconnected
		fireSync = p.setSyncedLocked(false)
		statusFs = snapshotListeners(p.statusListeners)
	} else {
		p.unsuccessfulReconnects++
	}

	if p.shouldConnect && !p.destroyed {
		p.reconnectTimer = time.AfterFunc(
			backoffDelay(p.unsuccessfulReconnects, p.maxBackoffTime), p.connectSocket)
	}
	p.mu.Unlock()

	for _, f := range closeFs {
		f(cause)
	}

	if !wasConnected {
		return
	}

	p.logger().WithError(cause).Info("Connection closed")

	// all remote peers are unreachable now; their presence would linger
	// until the timeout sweep otherwise
	var remotes []uint32
	for _, client := range p.aw.ClientIDs() {
		if client != p.aw.ClientID() {
			remotes = append(remotes, client)
		}
	}
	p.aw.RemoveStates(remotes, p)

	fireSync()
	for _, f := range statusFs {
		f(StatusDisconnected)
	}
}

// watchdogLoop closes connections that fell silent for the message reconnect
// timeout, forcing a reconnect.
func (p *Provider) watchdogLoop() {
	ticker := time.NewTicker(p.messageReconnectTimeout / 10)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-ticker.C:
			p.mu.Lock()
			var stale Socket
			if p.sock != nil && time.Since(p.lastMessageReceived) > p.messageReconnectTimeout {
				stale = p.sock
			}
			p.mu.Unlock()

			if stale != nil {
				p.logger().Warn("Connection fell silent, closing socket")
				_ = stale.Close()
			}
		}
	}
}

// resyncLoop periodically restates the local state vector over the transport
// to recover from updates lost in transit.
func (p *Provider) resyncLoop() {
	ticker := time.NewTicker(p.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-ticker.C:
			p.mu.Lock()
			var sock Socket
			if p.status == StatusConnected {
				sock = p.sock
			}
			p.mu.Unlock()

			if sock == nil {
				continue
			}

			sv, err := p.d.EncodeStateVector()
			if err != nil {
				p.logger().WithError(err).Warn("Encoding state vector errored")
				continue
			}
			frame, err := protocol.Encode(&protocol.SyncMessage{Sync: &protocol.SyncStep1Message{StateVector: sv}})
			if err != nil {
				p.logger().WithError(err).Warn("Encoding sync step 1 errored")
				continue
			}
			if err := sock.WriteMessage(frame); err != nil {
				p.logger().WithError(err).Warn("Sending resync errored")
			}
		}
	}
}
