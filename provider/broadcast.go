// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package provider

import (
	"github.com/ycollab/ycollab-go/awareness"
	"github.com/ycollab/ycollab-go/protocol"
)

// connectBroadcast joins the local bus channel and performs the join dance:
// ask the neighbours for updates, hand out everything local and exchange
// presence. Subscribing twice is a no-op.
func (p *Provider) connectBroadcast() {
	p.mu.Lock()
	if p.destroyed || p.busSub != nil {
		p.mu.Unlock()
		return
	}
	p.busSub = p.b.Subscribe(p.busChannel, p.handleBusFrame)
	p.mu.Unlock()

	if sv, err := p.d.EncodeStateVector(); err != nil {
		p.logger().WithError(err).Warn("Encoding state vector errored")
	} else {
		p.publishBus(&protocol.SyncMessage{Sync: &protocol.SyncStep1Message{StateVector: sv}})
	}

	if update, err := p.d.EncodeStateAsUpdate(nil); err != nil {
		p.logger().WithError(err).Warn("Encoding document state errored")
	} else {
		p.publishBus(&protocol.SyncMessage{Sync: &protocol.SyncStep2Message{Update: update}})
	}

	p.publishBus(new(protocol.QueryAwarenessMessage))

	if p.aw.LocalState() != nil {
		if blob, err := p.aw.EncodeUpdate([]uint32{p.aw.ClientID()}); err != nil {
			p.logger().WithError(err).Warn("Encoding awareness state errored")
		} else {
			p.publishBus(protocol.NewAwarenessMessage(blob))
		}
	}
}

// disconnectBroadcast announces the local client's departure and leaves the
// bus channel. The departure marker travels through the awareness listeners
// and thus reaches both the bus and the transport before the subscription
// ends.
func (p *Provider) disconnectBroadcast() {
	p.aw.RemoveStates([]uint32{p.aw.ClientID()}, awareness.OriginLocal)

	p.mu.Lock()
	sub := p.busSub
	p.busSub = nil
	p.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

// handleBusFrame processes one frame from the bus. The Provider's own
// publications come back around and are skipped by origin. Replies stay on
// the bus; they answer a neighbour, not the server.
func (p *Provider) handleBusFrame(data []byte, origin interface{}) {
	if origin == interface{}(p) {
		return
	}

	p.handlerMutex.Lock()
	defer p.handlerMutex.Unlock()

	msg, err := protocol.Decode(data)
	if err != nil {
		p.logger().WithError(err).Warn("Dropping malformed bus frame")
		return
	}

	reply, fire := p.handleMessage(msg, false)
	if reply != nil {
		p.publishBus(reply)
	}

	fire()
}

// publishBus encodes mt and publishes the frame with the Provider as origin.
func (p *Provider) publishBus(mt protocol.MessageType) {
	frame, err := protocol.Encode(mt)
	if err != nil {
		p.logger().WithError(err).Warn("Encoding bus frame errored")
		return
	}

	p.b.Publish(p.busChannel, frame, p)
}
