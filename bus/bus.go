// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bus provides the local broadcast channel: an in-process pub/sub
// over which co-located peers exchange the same frames they would otherwise
// route through the server, saving the round-trip.
package bus

// Handler consumes a frame published on a channel together with the opaque
// origin token of the publisher. A subscriber observing the token it
// publishes under may skip the frame.
type Handler func(data []byte, origin interface{})

// Subscription is one active handler registration.
type Subscription interface {
	// Cancel the subscription. No frame is delivered after Cancel returns
	// to the subscriber's handler goroutine. Cancel is idempotent.
	Cancel()
}

// Bus is a named-channel broadcast medium.
type Bus interface {
	// Subscribe registers h on the given channel.
	Subscribe(channel string, h Handler) Subscription

	// Publish delivers data to every subscriber of the channel, including
	// the publisher's own subscriptions. Handlers observe frames of one
	// publisher in publish order. Delivery is best-effort: a subscriber
	// that stays stuck past the implementation's patience loses frames and
	// diverges until the next sync conversation reaches it.
	Publish(channel string, data []byte, origin interface{})
}
