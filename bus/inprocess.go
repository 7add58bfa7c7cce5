// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// subscriptionBufferSize is the per-subscription queue depth.
	subscriptionBufferSize = 128

	// publishPatience is how long Publish waits on a full queue before
	// dropping the frame for that subscriber.
	publishPatience = 100 * time.Millisecond
)

// InProcess is the default Bus: frames stay within the process. Each
// subscription runs its handler on a dedicated goroutine, so a handler may
// publish again without re-entering itself. A subscriber stuck for longer
// than publishPatience with a full queue loses frames; such a peer stays
// divergent until another sync conversation reaches it, so handlers must
// keep up.
type InProcess struct {
	mu   sync.Mutex
	subs map[string][]*inProcessSubscription
}

// Default is the process-wide bus shared by all providers that do not bring
// their own.
var Default = NewInProcess()

// NewInProcess creates an empty in-process bus.
func NewInProcess() *InProcess {
	return &InProcess{
		subs: make(map[string][]*inProcessSubscription),
	}
}

type busItem struct {
	data   []byte
	origin interface{}
}

type inProcessSubscription struct {
	bus     *InProcess
	channel string
	handler Handler

	queue      chan busItem
	done       chan struct{}
	cancelOnce sync.Once
}

// Subscribe registers h on the given channel and starts its delivery
// goroutine.
func (b *InProcess) Subscribe(channel string, h Handler) Subscription {
	sub := &inProcessSubscription{
		bus:     b,
		channel: channel,
		handler: h,

		queue: make(chan busItem, subscriptionBufferSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	go sub.deliver()

	return sub
}

// Publish delivers data to every subscriber of the channel, waiting up to
// publishPatience per lagging subscriber before dropping the frame for it.
func (b *InProcess) Publish(channel string, data []byte, origin interface{}) {
	b.mu.Lock()
	subs := append([]*inProcessSubscription(nil), b.subs[channel]...)
	b.mu.Unlock()

	for _, sub := range subs {
		item := busItem{data: data, origin: origin}

		select {
		case sub.queue <- item:
			continue
		default:
		}

		timer := time.NewTimer(publishPatience)
		select {
		case sub.queue <- item:
			timer.Stop()
		case <-sub.done:
			timer.Stop()
		case <-timer.C:
			log.WithField("channel", channel).Warn("Dropping frame for a lagging bus subscriber")
		}
	}
}

func (sub *inProcessSubscription) deliver() {
	for {
		select {
		case <-sub.done:
			return
		case item := <-sub.queue:
			sub.handler(item.data, item.origin)
		}
	}
}

// Cancel removes the subscription from the bus and stops its delivery
// goroutine.
func (sub *inProcessSubscription) Cancel() {
	sub.cancelOnce.Do(func() {
		b := sub.bus

		b.mu.Lock()
		subs := b.subs[sub.channel]
		for i, s := range subs {
			if s == sub {
				b.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[sub.channel]) == 0 {
			delete(b.subs, sub.channel)
		}
		b.mu.Unlock()

		// the queue itself stays open: a publisher racing the cancel may
		// still enqueue, those frames are dropped with the goroutine
		close(sub.done)
	})
}
