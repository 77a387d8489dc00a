package session

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/transport"
	"github.com/iykyk-syn/sectionclient/wire"
)

// listen demultiplexes inbound messages until the Endpoint or the Session is closed.
func (s *Session) listen() {
	var err error
	for {
		var in transport.Inbound
		in, err = s.ep.Next(s.ctx)
		if err != nil {
			break
		}
		s.handleInbound(in)
	}

	s.log.Debug("listener stopped", "err", err)
	s.stop(err)
}

func (s *Session) handleInbound(in transport.Inbound) {
	msg, err := wire.Decode(in.Data)
	if err != nil {
		s.log.Warn("decoding inbound message", "from", in.From.ShortString(), "err", err)
		return
	}
	if len(msg.Head().Origin.Body) > 0 {
		if err := wire.Verify(s.signer, msg); err != nil {
			s.log.Warn("invalid origin signature", "from", in.From.ShortString(), "type", msg.Type(), "err", err)
			return
		}
	}

	if s.reg.DeliverSection(in.From, msg) {
		return
	}

	switch msg.Type().Kind() {
	case wire.KindSection:
		s.handleSectionMessage(in.From, msg)
	case wire.KindClient:
		s.handleClientMessage(in.From, msg)
	default:
		s.log.Warn("ignoring unknown message", "from", in.From.ShortString(), "type", uint16(msg.Type()))
	}
}

func (s *Session) handleSectionMessage(from peer.ID, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.SectionInfo:
		s.handleSectionInfo(from, m)
	default:
		s.log.Warn("dropping section request sent to client", "from", from.ShortString(), "type", m.Type())
	}
}

// handleClientMessage correlates replies with pending requests. Results for transfers
// are queued and never wait for the transfer's sink.
func (s *Session) handleClientMessage(from peer.ID, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.QueryResponse:
		if !s.reg.DeliverQuery(from, m) {
			s.log.Warn("dropping unmatched query response", "from", from.ShortString(), "query", m.CorrelationID)
		}
	case *wire.TransferValidated:
		if !s.reg.DeliverTransfer(m.CorrelationID, TransferResult{Share: m}) {
			s.log.Warn("dropping unmatched signature share", "from", from.ShortString(), "transfer", m.CorrelationID)
		}
	case *wire.CmdError:
		cmdErr := &CmdError{Elder: from, CorrelationID: m.CorrelationID, Reason: m.Reason}
		s.reg.DeliverTransfer(m.CorrelationID, TransferResult{Err: cmdErr})
		s.notify(cmdErr)
	default:
		s.log.Warn("dropping client request sent to client", "from", from.ShortString(), "type", m.Type())
	}
}

// handleSectionInfo applies membership pushed by a section member.
func (s *Session) handleSectionInfo(from peer.ID, info *wire.SectionInfo) {
	if info.Result == wire.SectionRedirect {
		s.log.Warn("ignoring unsolicited redirect", "from", from.ShortString())
		return
	}

	s.mu.Lock()
	member := s.isMember(from)
	s.mu.Unlock()
	if !member {
		s.log.Warn("ignoring section info from non member", "from", from.ShortString(), "result", info.Result)
		return
	}

	go s.updateMembership(info)
}
