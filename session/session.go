// Package session manages a client's connection to the elders of its network section.
//
// A Session is produced by Bootstrap. It keeps a set of connected elders in line with the
// section membership it learns about, resolves queries by voting over the elders' replies
// and fans commands out to every elder. A single listener demultiplexes every inbound
// message onto the requests waiting for it.
package session

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/crypto"
	"github.com/iykyk-syn/sectionclient/transport"
	"github.com/iykyk-syn/sectionclient/wire"
)

// Session is a live client connection to a network section.
type Session struct {
	cfg    Config
	signer crypto.Signer
	ep     transport.Endpoint
	reg    *registry

	mu sync.Mutex
	// endpoint is set once bootstrap completed
	endpoint transport.Endpoint
	// section is the latest known elder membership
	section []peer.AddrInfo
	// elders are the connected members of section
	elders map[peer.ID]peer.AddrInfo
	epoch  uint64
	keySet *crypto.KeySet
	err    error

	keySetOnce    sync.Once
	keySetReady   chan struct{}
	notifications chan error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log *slog.Logger
}

func newSession(ep transport.Endpoint, signer crypto.Signer, cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:           cfg,
		signer:        signer,
		ep:            ep,
		reg:           newRegistry(),
		elders:        make(map[peer.ID]peer.AddrInfo),
		keySetReady:   make(chan struct{}),
		notifications: make(chan error, cfg.NotificationBuffer),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		log:           slog.With("module", "session", "self", ep.Self().ID.ShortString()),
	}
}

// NumberOfConnectedElders reports how many elders the Session is connected to.
func (s *Session) NumberOfConnectedElders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elders)
}

// Elders returns the connected elders.
func (s *Session) Elders() []peer.AddrInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	elders := make([]peer.AddrInfo, 0, len(s.elders))
	for _, e := range s.elders {
		elders = append(elders, e)
	}
	slices.SortFunc(elders, func(a, b peer.AddrInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return elders
}

// SectionKey returns the section's key set, or nil when none was learned yet.
func (s *Session) SectionKey() *crypto.KeySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keySet
}

// KeySetReady is closed once the Session learned its first section key set.
func (s *Session) KeySetReady() <-chan struct{} {
	return s.keySetReady
}

// Notifications carries errors that are not tied to a request, like command rejections
// and connectivity shortfalls after membership changes. Notifications are dropped when
// nobody keeps up with the channel.
func (s *Session) Notifications() <-chan error {
	return s.notifications
}

// Done is closed once the Session's listener stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the Session stopped. It is nil while Done is open and always
// matches ErrSessionClosed afterwards.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the listener and waits for it to exit.
// The Endpoint stays open and is owned by the caller.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// ready returns the Endpoint requests can be sent through.
func (s *Session) ready() (transport.Endpoint, error) {
	select {
	case <-s.done:
		return nil, ErrSessionClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return nil, ErrNotBootstrapped
	}
	return s.endpoint, nil
}

func (s *Session) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = s.ep
}

// stop records why the listener exited and releases everyone waiting on the Session.
func (s *Session) stop(cause error) {
	err := ErrSessionClosed
	if s.ctx.Err() == nil && cause != nil {
		err = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.cancel()
	close(s.done)
}

// notify publishes an out of band error without blocking.
func (s *Session) notify(err error) {
	select {
	case s.notifications <- err:
	default:
		s.log.Warn("dropping notification", "err", err)
	}
}

// seal assigns the Message a fresh ID, signs it with the client identity and encodes it.
func (s *Session) seal(m wire.Message) ([]byte, error) {
	m.Head().ID = wire.NewMessageID()
	if err := wire.Sign(s.signer, m); err != nil {
		return nil, err
	}

	data, err := wire.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s(%s): %w", m.Type(), m.Head().ID, err)
	}
	return data, nil
}

// isMember reports whether the peer belongs to the current section membership.
// Must be called with mu held.
func (s *Session) isMember(id peer.ID) bool {
	return slices.ContainsFunc(s.section, func(e peer.AddrInfo) bool {
		return e.ID == id
	})
}
