// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package provider connects a replicated document to its peers: it keeps a
// websocket to the collaboration server alive, disseminates document updates
// and awareness states in both directions, and fans the same traffic out
// over a local broadcast bus so co-located peers converge without the
// server's help.
package provider

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/hashicorp/go-multierror"

	"github.com/ycollab/ycollab-go/awareness"
	"github.com/ycollab/ycollab-go/bus"
	"github.com/ycollab/ycollab-go/doc"
	"github.com/ycollab/ycollab-go/protocol"
)

// Provider binds one document to one room on one server.
type Provider struct {
	serverURL  string
	room       string
	url        string
	busChannel string

	d  doc.Doc
	aw *awareness.Awareness
	b  bus.Bus

	ownAwareness bool

	dialer                  Dialer
	disableBroadcast        bool
	resyncInterval          time.Duration
	maxBackoffTime          time.Duration
	messageReconnectTimeout time.Duration
	permissionDeniedHandler func(reason string)

	ctx    context.Context
	cancel context.CancelFunc

	// handlerMutex serializes the processing of incoming frames from the
	// transport and from the bus, so every handler is atomic with respect
	// to the others.
	handlerMutex sync.Mutex

	mu                     sync.Mutex
	status                 Status
	synced                 bool
	shouldConnect          bool
	unsuccessfulReconnects uint
	lastMessageReceived    time.Time
	sock                   Socket
	dialing                bool
	epoch                  uint64
	busSub                 bus.Subscription
	reconnectTimer         *time.Timer
	destroyed              bool

	statusListeners    map[int]func(Status)
	syncListeners      map[int]func(bool)
	syncedListeners    map[int]func(bool)
	connErrorListeners map[int]func(error)
	connCloseListeners map[int]func(error)
	nextListenerID     int

	cancelDocUpdate  func()
	cancelDocDestroy func()
	cancelAwUpdate   func()

	destroyOnce sync.Once
}

// New creates a Provider for the document d in the given room. Unless
// disabled in the Options, it connects immediately.
//
// serverURL carries no room name; trailing slashes are stripped.
func New(serverURL, room string, d doc.Doc, opts *Options) (*Provider, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.check(serverURL, room); err != nil {
		return nil, err
	}

	for len(serverURL) > 0 && serverURL[len(serverURL)-1] == '/' {
		serverURL = serverURL[:len(serverURL)-1]
	}

	aw := opts.Awareness
	ownAwareness := false
	if aw == nil {
		aw = awareness.New(d.ClientID())
		ownAwareness = true
	}

	b := opts.Bus
	if b == nil {
		b = bus.Default
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer(nil)
	}

	maxBackoffTime := opts.MaxBackoffTime
	if maxBackoffTime == 0 {
		maxBackoffTime = DefaultMaxBackoffTime
	}
	messageReconnectTimeout := opts.MessageReconnectTimeout
	if messageReconnectTimeout == 0 {
		messageReconnectTimeout = DefaultMessageReconnectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Provider{
		serverURL:  serverURL,
		room:       room,
		url:        buildURL(serverURL, room, opts.Params),
		busChannel: serverURL + "/" + room,

		d:  d,
		aw: aw,
		b:  b,

		ownAwareness: ownAwareness,

		dialer:                  dialer,
		disableBroadcast:        opts.DisableBroadcast,
		resyncInterval:          opts.ResyncInterval,
		maxBackoffTime:          maxBackoffTime,
		messageReconnectTimeout: messageReconnectTimeout,
		permissionDeniedHandler: opts.PermissionDeniedHandler,

		ctx:    ctx,
		cancel: cancel,

		status: StatusDisconnected,

		statusListeners:    make(map[int]func(Status)),
		syncListeners:      make(map[int]func(bool)),
		syncedListeners:    make(map[int]func(bool)),
		connErrorListeners: make(map[int]func(error)),
		connCloseListeners: make(map[int]func(error)),
	}

	if p.permissionDeniedHandler == nil {
		p.permissionDeniedHandler = func(reason string) {
			p.logger().WithField("reason", reason).Warn("Permission to access the room denied")
		}
	}

	p.cancelDocUpdate = d.OnUpdate(p.handleDocUpdate)
	p.cancelDocDestroy = d.OnDestroy(func() { _ = p.Destroy() })
	p.cancelAwUpdate = aw.OnUpdate(p.handleAwarenessUpdate)

	go p.watchdogLoop()
	if p.resyncInterval > 0 {
		go p.resyncLoop()
	}

	if !opts.DisableConnect {
		p.Connect()
	}

	return p, nil
}

// logger returns a new logrus.Entry for this Provider.
func (p *Provider) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"provider": p.room,
		"url":      p.url,
	})
}

// URL of the room endpoint, including the encoded parameters.
func (p *Provider) URL() string {
	return p.url
}

// Room name this Provider is bound to.
func (p *Provider) Room() string {
	return p.room
}

// Awareness engine used by this Provider.
func (p *Provider) Awareness() *awareness.Awareness {
	return p.aw
}

// Status of the transport connection.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status
}

// Synced reports whether the initial handshake of the current connection
// epoch has concluded.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.synced
}

// Connect expresses the intent to be online: it subscribes to the local bus
// and opens the transport. Connect is a no-op while already connected.
func (p *Provider) Connect() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.shouldConnect = true
	p.mu.Unlock()

	if !p.disableBroadcast {
		p.connectBroadcast()
	}
	p.connectSocket()
}

// Disconnect takes the Provider offline: it announces the local client's
// departure, leaves the bus and closes the socket. No reconnect is scheduled
// until the next Connect.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	p.shouldConnect = false
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
	p.mu.Unlock()

	p.disconnectBroadcast()

	p.mu.Lock()
	sock := p.sock
	p.mu.Unlock()

	if sock != nil {
		if err := sock.Close(); err != nil {
			p.logger().WithError(err).Debug("Closing socket errored")
		}
	}
}

// Destroy disconnects and releases every resource: timers, listeners, the
// bus subscription and, if owned, the awareness engine. Afterwards the
// Provider delivers no further events. Destroy is idempotent.
func (p *Provider) Destroy() (err error) {
	p.destroyOnce.Do(func() {
		p.Disconnect()

		p.mu.Lock()
		p.destroyed = true
		sock := p.sock
		p.mu.Unlock()

		p.cancel()

		p.cancelDocUpdate()
		p.cancelDocDestroy()
		p.cancelAwUpdate()

		var errs *multierror.Error
		if sock != nil {
			if closeErr := sock.Close(); closeErr != nil {
				errs = multierror.Append(errs, closeErr)
			}
		}

		if p.ownAwareness {
			p.aw.Destroy()
		}

		err = errs.ErrorOrNil()
	})

	return
}

// broadcastBoth fans one frame out to the transport, if connected, and to
// the local bus, if subscribed. Bus subscribers observing the Provider as
// origin skip the frame.
func (p *Provider) broadcastBoth(frame []byte) {
	p.mu.Lock()
	var sock Socket
	if p.status == StatusConnected {
		sock = p.sock
	}
	subscribed := p.busSub != nil
	p.mu.Unlock()

	if sock != nil {
		if err := sock.WriteMessage(frame); err != nil {
			p.logger().WithError(err).Warn("Sending frame errored, closing socket")
			_ = sock.Close()
		}
	}

	if subscribed {
		p.b.Publish(p.busChannel, frame, p)
	}
}

// handleDocUpdate fans a locally produced document update out to all
// channels. Updates the Provider itself applied are skipped, they are echos.
func (p *Provider) handleDocUpdate(update []byte, origin interface{}) {
	if origin == interface{}(p) {
		return
	}

	frame, err := protocol.Encode(&protocol.SyncMessage{Sync: &protocol.SyncUpdateMessage{Update: update}})
	if err != nil {
		p.logger().WithError(err).Warn("Encoding document update errored")
		return
	}

	p.broadcastBoth(frame)
}

// handleAwarenessUpdate re-broadcasts awareness changes of any origin but
// the Provider itself.
func (p *Provider) handleAwarenessUpdate(change awareness.ChangeSet, origin interface{}) {
	if origin == interface{}(p) {
		return
	}

	changed := make([]uint32, 0, len(change.Added)+len(change.Updated)+len(change.Removed))
	changed = append(changed, change.Added...)
	changed = append(changed, change.Updated...)
	changed = append(changed, change.Removed...)

	blob, err := p.aw.EncodeUpdate(changed)
	if err != nil {
		p.logger().WithError(err).Warn("Encoding awareness update errored")
		return
	}

	frame, err := protocol.Encode(protocol.NewAwarenessMessage(blob))
	if err != nil {
		p.logger().WithError(err).Warn("Encoding awareness frame errored")
		return
	}

	p.broadcastBoth(frame)
}

// handleMessage dispatches one decoded message. The returned reply, if any,
// belongs on the channel the message came from. fire delivers the events the
// message caused and must be called after handleMessage returns.
//
// concludeHandshake permits a sync step 2 to flip the synced flag; frames
// from the local bus must not, they carry no statement about the server.
func (p *Provider) handleMessage(msg *protocol.Message, concludeHandshake bool) (reply protocol.MessageType, fire func()) {
	fire = func() {}

	switch mt := msg.MessageType.(type) {
	case *protocol.SyncMessage:
		switch sync := mt.Sync.(type) {
		case *protocol.SyncStep1Message:
			update, err := p.d.EncodeStateAsUpdate(sync.StateVector)
			if err != nil {
				p.logger().WithError(err).Warn("Encoding sync step 2 errored")
				return
			}
			reply = &protocol.SyncMessage{Sync: &protocol.SyncStep2Message{Update: update}}

		case *protocol.SyncStep2Message:
			// a malformed update must not kill the session
			if err := p.d.ApplyUpdate(sync.Update, p); err != nil {
				p.logger().WithError(err).Warn("Applying sync step 2 errored")
			}
			if concludeHandshake {
				p.mu.Lock()
				fire = p.setSyncedLocked(true)
				p.mu.Unlock()
			}

		case *protocol.SyncUpdateMessage:
			// same apply path as step 2, but never concludes a handshake
			if err := p.d.ApplyUpdate(sync.Update, p); err != nil {
				p.logger().WithError(err).Warn("Applying document update errored")
			}
		}

	case *protocol.AwarenessMessage:
		if err := p.aw.ApplyUpdate(mt.Update, p); err != nil {
			p.logger().WithError(err).Warn("Applying awareness update errored")
		}

	case *protocol.QueryAwarenessMessage:
		blob, err := p.aw.EncodeUpdate(p.aw.ClientIDs())
		if err != nil {
			p.logger().WithError(err).Warn("Encoding awareness snapshot errored")
			return
		}
		reply = protocol.NewAwarenessMessage(blob)

	case *protocol.AuthMessage:
		p.permissionDeniedHandler(mt.Reason)

	default:
		p.logger().WithField("message", msg).Warn("Dropping message of unhandled type")
	}

	return
}
