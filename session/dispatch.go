package session

import (
	"context"
	"fmt"

	"github.com/iykyk-syn/sectionclient/wire"
)

// SendCmd sends the Cmd to every connected elder under a fresh ID. Delivery is best effort: it succeeds
// as long as a single elder accepted the Cmd. Whether the Cmd took effect has to be
// confirmed with a follow-up query.
func (s *Session) SendCmd(ctx context.Context, cmd *wire.Cmd) error {
	if _, err := s.ready(); err != nil {
		return err
	}

	data, err := s.seal(cmd)
	if err != nil {
		return err
	}

	elders := s.Elders()
	delivered, err := s.broadcast(ctx, elders, data)
	if err != nil {
		s.log.WarnContext(ctx, "cmd partially delivered",
			"cmd", cmd.ID, "delivered", delivered, "elders", len(elders), "err", err)
	}
	if delivered == 0 && len(elders) > 0 {
		return fmt.Errorf("sending cmd %s: %w", cmd.ID, err)
	}
	return nil
}

// SendTransferValidation sends the TransferValidation to every connected elder. Every
// signature share and rejection correlated to it is forwarded to the sink until
// RemoveTransferValidation is called with its ID.
//
// Results queue up for the sink without holding back other requests until it is drained.
// A fresh ID is assigned to the TransferValidation on every call.
func (s *Session) SendTransferValidation(
	ctx context.Context,
	tv *wire.TransferValidation,
	sink chan<- TransferResult,
) error {
	if _, err := s.ready(); err != nil {
		return err
	}

	data, err := s.seal(tv)
	if err != nil {
		return err
	}

	if err := s.reg.AddTransfer(s.ctx, tv.ID, sink); err != nil {
		return fmt.Errorf("registering transfer validation %s: %w", tv.ID, err)
	}

	elders := s.Elders()
	delivered, err := s.broadcast(ctx, elders, data)
	if err != nil {
		s.log.WarnContext(ctx, "transfer validation partially delivered",
			"transfer", tv.ID, "delivered", delivered, "elders", len(elders), "err", err)
	}
	if delivered == 0 && len(elders) > 0 {
		s.reg.RemoveTransfer(tv.ID) //nolint:errcheck
		return fmt.Errorf("sending transfer validation %s: %w", tv.ID, err)
	}
	return nil
}

// RemoveTransferValidation stops forwarding results for the given transfer validation.
// It returns ErrNoTransferValidationListener if there is nothing to remove.
func (s *Session) RemoveTransferValidation(id wire.MessageID) error {
	return s.reg.RemoveTransfer(id)
}
