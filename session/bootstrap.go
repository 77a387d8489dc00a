package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/iykyk-syn/sectionclient/crypto"
	"github.com/iykyk-syn/sectionclient/transport"
	"github.com/iykyk-syn/sectionclient/wire"
)

var errNoContacts = errors.New("no contacts given")

// Bootstrap joins the section serving the signer's identity.
//
// It asks the contacts for the section, following redirects, connects to the section's
// elders and registers the client with them. The returned Session listens on the
// Endpoint until it is closed.
func Bootstrap(
	ctx context.Context,
	ep transport.Endpoint,
	signer crypto.Signer,
	contacts []peer.AddrInfo,
	cfg Config,
) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(contacts) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrBootstrap, errNoContacts)
	}

	s := newSession(ep, signer, cfg)
	go s.listen()

	if err := s.bootstrap(ctx, contacts); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) bootstrap(ctx context.Context, contacts []peer.AddrInfo) error {
	info, err := s.getSection(ctx, contacts)
	if err != nil {
		return err
	}

	epoch, _ := s.applySection(info)
	s.log.InfoContext(ctx, "joining section", "elders", len(info.Elders), "epoch", epoch)

	n, err := s.connectElders(ctx, info.Elders)
	if err != nil {
		return err
	}

	s.registerEndUser(ctx)
	s.markReady()
	s.log.InfoContext(ctx, "bootstrapped", "elders", n)
	return nil
}

// getSection asks the contacts for the client's section, following up to MaxRedirects
// redirects.
func (s *Session) getSection(ctx context.Context, contacts []peer.AddrInfo) (*wire.SectionInfo, error) {
	for hop := 0; ; hop++ {
		info, err := s.askContacts(ctx, contacts)
		if err != nil {
			return nil, err
		}
		if info.Result != wire.SectionRedirect {
			return info, nil
		}
		if hop >= s.cfg.MaxRedirects {
			return nil, fmt.Errorf("%w: followed %d", ErrTooManyRedirects, hop)
		}
		if len(info.Elders) == 0 {
			return nil, fmt.Errorf("%w: redirected to %w", ErrBootstrap, errNoContacts)
		}

		s.log.DebugContext(ctx, "redirected", "contacts", len(info.Elders), "hop", hop+1)
		contacts = info.Elders
	}
}

// askContacts tries the contacts in order until one of them answers.
func (s *Session) askContacts(ctx context.Context, contacts []peer.AddrInfo) (*wire.SectionInfo, error) {
	var lastErr error
	for _, contact := range contacts {
		info, err := s.askContact(ctx, contact)
		switch {
		case err == nil:
			return info, nil
		case errors.Is(err, ErrUnexpectedMessageOnJoin), errors.Is(err, ErrSessionClosed), ctx.Err() != nil:
			return nil, err
		}

		s.log.WarnContext(ctx, "contact failed", "contact", contact.ID.ShortString(), "err", err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrBootstrap, lastErr)
}

func (s *Session) askContact(ctx context.Context, contact peer.AddrInfo) (*wire.SectionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	if err := s.ep.Connect(ctx, contact); err != nil {
		return nil, fmt.Errorf("connecting to contact %s: %w", contact.ID.ShortString(), err)
	}

	keyHash := sha3.Sum256(s.signer.ID())
	req := &wire.GetSection{ClientKeyHash: keyHash[:]}
	data, err := s.seal(req)
	if err != nil {
		return nil, err
	}

	replies, err := s.reg.AddSection(contact.ID, req.ID)
	if err != nil {
		return nil, err
	}
	defer s.reg.RemoveSection(req.ID)

	if err := s.ep.Send(ctx, contact.ID, data); err != nil {
		return nil, fmt.Errorf("sending %s to contact %s: %w", req.Type(), contact.ID.ShortString(), err)
	}

	var reply wire.Message
	select {
	case reply = <-replies:
	case <-ctx.Done():
		return nil, fmt.Errorf("awaiting section from contact %s: %w", contact.ID.ShortString(), ctx.Err())
	case <-s.done:
		return nil, s.Err()
	}

	info, ok := reply.(*wire.SectionInfo)
	if !ok {
		return nil, fmt.Errorf("%w: got %s from %s", ErrUnexpectedMessageOnJoin, reply.Type(), contact.ID.ShortString())
	}
	switch info.Result {
	case wire.SectionSuccess, wire.SectionUpdate, wire.SectionRedirect:
		return info, nil
	default:
		return nil, fmt.Errorf("%w: %s section result from %s", ErrUnexpectedMessageOnJoin, info.Result, contact.ID.ShortString())
	}
}

// registerEndUser announces the client's address to every connected elder.
// Elders that could not be reached are only logged.
func (s *Session) registerEndUser(ctx context.Context) {
	msg := &wire.RegisterEndUser{Addr: s.ep.Self()}
	data, err := s.seal(msg)
	if err != nil {
		s.log.ErrorContext(ctx, "registering end user", "err", err)
		return
	}

	if delivered, err := s.broadcast(ctx, s.Elders(), data); err != nil {
		s.log.WarnContext(ctx, "registering end user", "delivered", delivered, "err", err)
	}
}

// broadcast sends the data to every elder concurrently and reports how many accepted it.
func (s *Session) broadcast(ctx context.Context, elders []peer.AddrInfo, data []byte) (int, error) {
	errs := make([]error, len(elders))
	var eg errgroup.Group
	for i, elder := range elders {
		eg.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
			defer cancel()

			if err := s.ep.Send(ctx, elder.ID, data); err != nil {
				errs[i] = fmt.Errorf("sending to elder %s: %w", elder.ID.ShortString(), err)
			}
			return nil
		})
	}
	eg.Wait() //nolint:errcheck

	var delivered int
	for _, err := range errs {
		if err == nil {
			delivered++
		}
	}
	return delivered, errors.Join(errs...)
}
