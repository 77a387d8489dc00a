package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/wire"
)

// applySection replaces the section membership and key set, disconnecting the connected
// elders that are no longer part of it. It returns the new membership epoch.
func (s *Session) applySection(info *wire.SectionInfo) (uint64, []peer.ID) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.section = slices.Clone(info.Elders)

	var departed []peer.ID
	for id := range s.elders {
		if !s.isMember(id) {
			delete(s.elders, id)
			departed = append(departed, id)
		}
	}

	if info.KeySet != nil {
		s.keySet = info.KeySet
		s.keySetOnce.Do(func() { close(s.keySetReady) })
	}
	s.mu.Unlock()

	for _, id := range departed {
		if err := s.ep.Disconnect(id); err != nil {
			s.log.Warn("disconnecting departed elder", "elder", id.ShortString(), "err", err)
		}
	}
	return epoch, departed
}

// updateMembership applies a section update and tops up elder connections for it.
// Connectivity shortfalls are reported as notifications.
func (s *Session) updateMembership(info *wire.SectionInfo) {
	epoch, departed := s.applySection(info)
	s.log.InfoContext(s.ctx, "section updated",
		"elders", len(info.Elders), "departed", len(departed), "epoch", epoch)

	_, err := s.connectElders(s.ctx, s.unconnected())
	if err == nil || s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	stale := s.epoch != epoch
	s.mu.Unlock()
	if stale {
		// a newer membership took over
		return
	}
	s.notify(err)
}

// unconnected returns the members of the section the Session is not connected to.
func (s *Session) unconnected() []peer.AddrInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []peer.AddrInfo
	for _, e := range s.section {
		if _, ok := s.elders[e.ID]; !ok {
			missing = append(missing, e)
		}
	}
	return missing
}

// connectElders connects to the elders concurrently. It returns as soon as EldersTarget
// elders are connected and fails if fewer than MinElders are connected once every
// attempt has finished. Unfinished attempts continue in the background and their
// elders are added as long as they remain section members.
func (s *Session) connectElders(ctx context.Context, elders []peer.AddrInfo) (int, error) {
	results := make(chan error, len(elders))
	for _, elder := range elders {
		go func() {
			err := s.connectElder(s.ctx, elder)
			if err == nil {
				s.addElder(elder)
			}
			results <- err
		}()
	}

	var errs error
	for range elders {
		select {
		case err := <-results:
			if err != nil {
				s.log.WarnContext(ctx, "elder unreachable", "err", err)
				errs = errors.Join(errs, err)
				continue
			}
			if n := s.NumberOfConnectedElders(); n >= s.cfg.EldersTarget {
				return n, nil
			}
		case <-ctx.Done():
			return s.NumberOfConnectedElders(), ctx.Err()
		case <-s.done:
			return s.NumberOfConnectedElders(), ErrSessionClosed
		}
	}

	n := s.NumberOfConnectedElders()
	if n < s.cfg.MinElders() {
		err := fmt.Errorf("%w: connected to %d, need %d", ErrInsufficientElderConnections, n, s.cfg.MinElders())
		return n, errors.Join(err, errs)
	}
	return n, nil
}

// connectElder connects and joins the elder, retrying up to Retries times.
func (s *Session) connectElder(ctx context.Context, elder peer.AddrInfo) error {
	var err error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if err = s.joinElder(ctx, elder); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		s.log.DebugContext(ctx, "joining elder", "elder", elder.ID.ShortString(), "attempt", attempt+1, "err", err)
	}
	return fmt.Errorf("%w %s: %w", ErrElderConnection, elder.ID.ShortString(), err)
}

func (s *Session) joinElder(ctx context.Context, elder peer.AddrInfo) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	if err := s.ep.Connect(ctx, elder); err != nil {
		return err
	}

	data, err := s.seal(&wire.Join{})
	if err != nil {
		return err
	}
	return s.ep.Send(ctx, elder.ID, data)
}

// addElder marks the elder connected unless it left the section in the meantime.
func (s *Session) addElder(elder peer.AddrInfo) bool {
	s.mu.Lock()
	member := s.isMember(elder.ID)
	if member {
		s.elders[elder.ID] = elder
	}
	s.mu.Unlock()

	if !member {
		s.log.Debug("dropping connection to former elder", "elder", elder.ID.ShortString())
		if err := s.ep.Disconnect(elder.ID); err != nil {
			s.log.Warn("disconnecting former elder", "elder", elder.ID.ShortString(), "err", err)
		}
	}
	return member
}
