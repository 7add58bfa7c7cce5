// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package provider

// Status of the transport connection.
type Status uint8

const (
	// StatusDisconnected means no socket exists.
	StatusDisconnected Status = iota

	// StatusConnecting means a socket is being opened.
	StatusConnecting

	// StatusConnected means frames flow.
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// OnStatus registers f for transport status transitions. The returned
// function cancels the registration.
func (p *Provider) OnStatus(f func(Status)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextListenerID
	p.nextListenerID++
	p.statusListeners[id] = f

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.statusListeners, id)
	}
}

// OnSync registers f for every change of the synced flag.
func (p *Provider) OnSync(f func(bool)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextListenerID
	p.nextListenerID++
	p.syncListeners[id] = f

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.syncListeners, id)
	}
}

// OnSynced registers f for the rising edge of the synced flag only: it fires
// once per connection epoch, when the initial handshake concludes.
func (p *Provider) OnSynced(f func(bool)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextListenerID
	p.nextListenerID++
	p.syncedListeners[id] = f

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.syncedListeners, id)
	}
}

// OnConnectionError registers f for transport errors. Errors are
// informational; the reconnect loop recovers on its own.
func (p *Provider) OnConnectionError(f func(error)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextListenerID
	p.nextListenerID++
	p.connErrorListeners[id] = f

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.connErrorListeners, id)
	}
}

// OnConnectionClose registers f for the end of every connection attempt,
// established or not. The error is the one that ended the attempt.
func (p *Provider) OnConnectionClose(f func(error)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextListenerID
	p.nextListenerID++
	p.connCloseListeners[id] = f

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.connCloseListeners, id)
	}
}

func snapshotListeners[F any](listeners map[int]F) []F {
	fs := make([]F, 0, len(listeners))
	for _, f := range listeners {
		fs = append(fs, f)
	}
	return fs
}

// setSyncedLocked updates the synced flag and returns a function firing the
// matching events; the caller invokes it after releasing the lock.
func (p *Provider) setSyncedLocked(state bool) func() {
	if p.synced == state {
		return func() {}
	}
	p.synced = state

	syncFs := snapshotListeners(p.syncListeners)
	var syncedFs []func(bool)
	if state {
		syncedFs = snapshotListeners(p.syncedListeners)
	}

	return func() {
		for _, f := range syncFs {
			f(state)
		}
		for _, f := range syncedFs {
			f(state)
		}
	}
}
