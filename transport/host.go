package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// DefaultProtocolID is the stream protocol section messages travel over.
var DefaultProtocolID = protocol.ID("/section/msg/v0.0.1")

const (
	// MaxMessageSize bounds a single inbound message.
	MaxMessageSize    = 4 << 20
	inboundBufferSize = 128
)

// Host is an Endpoint over a libp2p host. Every message travels on its own stream: the
// sender writes and half-closes, the receiver reads until EOF and closes the stream as
// acknowledgement.
type Host struct {
	host       host.Host
	protocolID protocol.ID

	inbound   chan Inbound
	closeCh   chan struct{}
	closeOnce sync.Once

	log *slog.Logger
}

// NewHost wraps the libp2p host and starts accepting message streams on DefaultProtocolID.
func NewHost(h host.Host) *Host {
	return NewHostWithProtocol(h, DefaultProtocolID)
}

// NewHostWithProtocol is NewHost with a custom stream protocol.
func NewHostWithProtocol(h host.Host, protocolID protocol.ID) *Host {
	t := &Host{
		host:       h,
		protocolID: protocolID,
		inbound:    make(chan Inbound, inboundBufferSize),
		closeCh:    make(chan struct{}),
		log:        slog.With("module", "transport", "self", h.ID().ShortString()),
	}
	h.SetStreamHandler(protocolID, func(stream network.Stream) {
		if err := t.rcvMessage(stream); err != nil {
			t.log.Error("receiving message", "from", stream.Conn().RemotePeer().ShortString(), "err", err)
		}
	})
	return t
}

func (t *Host) Self() peer.AddrInfo {
	return *host.InfoFromHost(t.host)
}

func (t *Host) Connect(ctx context.Context, info peer.AddrInfo) error {
	if t.closed() {
		return ErrClosed
	}
	if err := t.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("connecting to %s: %w", info.ID.ShortString(), err)
	}
	return nil
}

func (t *Host) Send(ctx context.Context, to peer.ID, data []byte) error {
	if t.closed() {
		return ErrClosed
	}

	stream, err := t.host.NewStream(ctx, to, t.protocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	// set stream deadline from the context deadline.
	// if it is empty, then we assume that it will
	// hang until the other side closes the stream.
	if dl, ok := ctx.Deadline(); ok {
		if err = stream.SetDeadline(dl); err != nil {
			t.log.WarnContext(ctx, "error setting deadline", "err", err)
		}
	}

	if _, err = stream.Write(data); err != nil {
		stream.Reset() //nolint: errcheck
		return fmt.Errorf("writing message to stream: %w", err)
	}
	if err = stream.CloseWrite(); err != nil {
		stream.Reset() //nolint: errcheck
		return fmt.Errorf("closing stream for writing: %w", err)
	}
	// await ack from the other side
	if _, err = io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("awaiting acknowledgement: %w", err)
	}
	return nil
}

func (t *Host) Disconnect(id peer.ID) error {
	return t.host.Network().ClosePeer(id)
}

func (t *Host) Next(ctx context.Context) (Inbound, error) {
	select {
	case in := <-t.inbound:
		return in, nil
	case <-t.closeCh:
		return Inbound{}, ErrClosed
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

// Close removes the stream handler and unblocks Next. It does not close the libp2p host,
// which stays owned by the caller.
func (t *Host) Close() error {
	t.closeOnce.Do(func() {
		t.host.RemoveStreamHandler(t.protocolID)
		close(t.closeCh)
	})
	return nil
}

func (t *Host) closed() bool {
	select {
	case <-t.closeCh:
		return true
	default:
		return false
	}
}

func (t *Host) rcvMessage(s network.Stream) error {
	data, err := io.ReadAll(io.LimitReader(s, MaxMessageSize+1))
	if err != nil {
		s.Reset() //nolint: errcheck
		return fmt.Errorf("reading message: %w", err)
	}
	if len(data) > MaxMessageSize {
		s.Reset() //nolint: errcheck
		return fmt.Errorf("message exceeds %d bytes", MaxMessageSize)
	}
	in := Inbound{From: s.Conn().RemotePeer(), Data: data}
	select {
	case t.inbound <- in:
	case <-t.closeCh:
		s.Reset() //nolint: errcheck
		return ErrClosed
	}

	// ack other side that we are done by closing the stream
	if err = s.Close(); err != nil {
		return fmt.Errorf("closing stream: %w", err)
	}
	return nil
}
