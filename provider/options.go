// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package provider

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ycollab/ycollab-go/awareness"
	"github.com/ycollab/ycollab-go/bus"
)

const (
	// DefaultMaxBackoffTime caps the reconnect backoff.
	DefaultMaxBackoffTime = 2500 * time.Millisecond

	// DefaultMessageReconnectTimeout is the silence after which a
	// connection counts as dead and is closed for reconnection.
	DefaultMessageReconnectTimeout = 30 * time.Second
)

// Options configure a Provider. The zero value is a working default.
type Options struct {
	// Params are appended to the room's URL as query parameters.
	Params map[string]string

	// DisableConnect suppresses the connect on construction; the Provider
	// then waits for an explicit Connect call.
	DisableConnect bool

	// DisableBroadcast turns off the local bus fan-out entirely.
	DisableBroadcast bool

	// ResyncInterval, if positive, sends a fresh sync step 1 over the
	// transport in this period to recover from silently lost updates.
	ResyncInterval time.Duration

	// MaxBackoffTime caps the reconnect backoff,
	// DefaultMaxBackoffTime if zero.
	MaxBackoffTime time.Duration

	// MessageReconnectTimeout is the liveness horizon of a connection,
	// DefaultMessageReconnectTimeout if zero.
	MessageReconnectTimeout time.Duration

	// Bus is the local broadcast bus, bus.Default if nil.
	Bus bus.Bus

	// Awareness lets multiple Providers share one engine. If nil, the
	// Provider owns a fresh engine and destroys it on Destroy.
	Awareness *awareness.Awareness

	// Dialer opens transport sockets, a gorilla websocket dialer if nil.
	Dialer Dialer

	// PermissionDeniedHandler receives the reason of a permission denied
	// verdict from the server. The default logs a warning. The core never
	// retries or tears down the connection on its own.
	PermissionDeniedHandler func(reason string)
}

// check the Options together with the Provider's constructor arguments,
// reporting all problems at once.
func (o *Options) check(serverURL, room string) (errs error) {
	if room == "" {
		errs = multierror.Append(errs, fmt.Errorf("room must not be empty"))
	}

	if serverURL == "" {
		errs = multierror.Append(errs, fmt.Errorf("server URL must not be empty"))
	} else if u, err := url.Parse(serverURL); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("parsing server URL: %w", err))
	} else if o.Dialer == nil && u.Scheme != "ws" && u.Scheme != "wss" {
		errs = multierror.Append(errs,
			fmt.Errorf("server URL scheme %q is not a websocket scheme", u.Scheme))
	}

	if o.MaxBackoffTime < 0 {
		errs = multierror.Append(errs, fmt.Errorf("MaxBackoffTime must not be negative"))
	}
	if o.MessageReconnectTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("MessageReconnectTimeout must not be negative"))
	}

	return
}

// buildURL joins the server URL, the room name and the encoded parameters.
func buildURL(serverURL, room string, params map[string]string) string {
	u := serverURL + "/" + room

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}
