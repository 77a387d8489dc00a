package session

import (
	"context"
	"errors"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/wire"
)

// FollowSection applies the section updates elders announce on the given pubsub topic.
// Only SectionUpdate announcements published by current section members are accepted.
// It blocks until the context is done or the Session is closed.
func (s *Session) FollowSection(ctx context.Context, ps *pubsub.PubSub, topic string) (err error) {
	if _, err = s.ready(); err != nil {
		return err
	}

	err = ps.RegisterTopicValidator(topic, s.validateAnnouncement, pubsub.WithValidatorTimeout(time.Second))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, ps.UnregisterTopicValidator(topic))
	}()

	t, err := ps.Join(topic)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			s.log.Warn("closing section topic", "topic", topic, "err", err)
		}
	}()

	sub, err := t.Subscribe()
	if err != nil {
		return err
	}
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.log.InfoContext(ctx, "following section", "topic", topic)
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			select {
			case <-s.done:
				return ErrSessionClosed
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		info, ok := msg.ValidatorData.(*wire.SectionInfo)
		if !ok {
			continue
		}
		go s.updateMembership(info)
	}
}

// validateAnnouncement decodes a section announcement and checks that its author is a
// member of the current section.
func (s *Session) validateAnnouncement(ctx context.Context, _ peer.ID, gossip *pubsub.Message) (res pubsub.ValidationResult) {
	defer func() {
		// recover from potential panics caused by network gossips
		if err := recover(); err != nil {
			s.log.ErrorContext(ctx, "validating section announcement panic", "err", err)
			res = pubsub.ValidationReject
		}
	}()

	msg, err := wire.Decode(gossip.Data)
	if err != nil {
		s.log.WarnContext(ctx, "decoding section announcement", "err", err)
		return pubsub.ValidationReject
	}

	info, ok := msg.(*wire.SectionInfo)
	if !ok || info.Result != wire.SectionUpdate {
		s.log.WarnContext(ctx, "unexpected section announcement", "type", msg.Type())
		return pubsub.ValidationReject
	}

	author := gossip.GetFrom()
	s.mu.Lock()
	member := s.isMember(author)
	s.mu.Unlock()
	if !member {
		s.log.WarnContext(ctx, "section announcement from non member", "author", author.ShortString())
		return pubsub.ValidationIgnore
	}

	gossip.ValidatorData = info
	return pubsub.ValidationAccept
}
