// Package transport moves opaque message bytes between the client and elders.
package transport

import (
	"context"
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrClosed is returned by Endpoint operations after the Endpoint has been closed.
var ErrClosed = errors.New("endpoint closed")

// Inbound is a message received from a remote peer.
type Inbound struct {
	From peer.ID
	Data []byte
}

// Endpoint is the connect/send/receive/disconnect primitive the section client runs on.
type Endpoint interface {
	// Self returns the Endpoint's own identity and reachable addresses.
	Self() peer.AddrInfo
	// Connect establishes a connection with the given peer.
	Connect(context.Context, peer.AddrInfo) error
	// Send delivers data to the given peer. It returns once the remote side has accepted it.
	Send(context.Context, peer.ID, []byte) error
	// Disconnect drops all connections with the given peer.
	Disconnect(peer.ID) error
	// Next blocks until the next Inbound message arrives.
	// It returns ErrClosed once the Endpoint is closed.
	Next(context.Context) (Inbound, error)
	// Close stops accepting inbound messages and unblocks Next.
	Close() error
}
