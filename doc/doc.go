// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package doc defines the document engine interface the transport core
// synchronizes. The engine is a black box: state vectors and updates are
// opaque blobs the engine produces and consumes, the core only moves them.
package doc

// Doc is a replicated document. A conforming engine guarantees that an
// update is applicable on any replica regardless of arrival order.
type Doc interface {
	// ClientID of this replica, unique per live replica.
	ClientID() uint32

	// EncodeStateVector summarizes how much of each client's history this
	// replica has seen.
	EncodeStateVector() ([]byte, error)

	// EncodeStateAsUpdate computes an update covering everything the remote
	// state vector has not seen. A nil state vector requests the full state.
	EncodeStateAsUpdate(remoteStateVector []byte) ([]byte, error)

	// ApplyUpdate merges an update into the document. The origin is an
	// opaque token handed through to update listeners, so a listener can
	// recognize updates it caused itself.
	ApplyUpdate(update []byte, origin interface{}) error

	// OnUpdate registers f for every update merged into or created by the
	// document. The returned function cancels the registration.
	OnUpdate(f func(update []byte, origin interface{})) (cancel func())

	// OnDestroy registers f for the document's destruction. The returned
	// function cancels the registration.
	OnDestroy(f func()) (cancel func())
}
