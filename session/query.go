package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/sha3"

	"github.com/iykyk-syn/sectionclient/quorum"
	"github.com/iykyk-syn/sectionclient/transport"
	"github.com/iykyk-syn/sectionclient/wire"
)

type queryOutcome struct {
	elder peer.ID
	resp  *wire.QueryResponse
	err   error
}

// SendQuery sends the Query to every connected elder under a fresh ID and returns the
// response elected from their replies.
//
// A response wins as soon as more than half of the elders agree on it. Otherwise, once
// the replies and failures together outnumber half of the elders, the most voted response
// wins. ErrNoResponse is returned when neither happens.
//
// Elders still being queried when SendQuery returns are left to finish in the background.
func (s *Session) SendQuery(ctx context.Context, q *wire.Query) (*wire.QueryResponse, error) {
	ep, err := s.ready()
	if err != nil {
		return nil, err
	}

	data, err := s.seal(q)
	if err != nil {
		return nil, err
	}
	id := q.ID

	elders := s.Elders()
	outcomes := make(chan queryOutcome, len(elders))
	for _, elder := range elders {
		go func() {
			resp, err := s.queryElder(s.ctx, ep, elder.ID, id, data)
			outcomes <- queryOutcome{elder: elder.ID, resp: resp, err: err}
		}()
	}

	var tieBreak quorum.TieBreak[*wire.QueryResponse]
	if s.cfg.SimulatedPayouts {
		tieBreak = preferLongerHistory
	}
	tally := quorum.NewTally(len(elders), tieBreak)

	var lastErr error
	for range elders {
		var o queryOutcome
		select {
		case o = <-outcomes:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrSessionClosed
		}

		var (
			resp    *wire.QueryResponse
			elected bool
		)
		if o.err != nil {
			s.log.WarnContext(ctx, "elder query failed", "query", id, "err", o.err)
			lastErr = o.err
			resp, elected = tally.Fail()
		} else {
			resp, elected = tally.Vote(voteKey(o.resp), o.resp)
		}
		if elected {
			_, votes := tally.Leader()
			s.log.DebugContext(ctx, "query resolved",
				"query", id, "votes", votes, "failures", tally.Failures(), "elders", len(elders))
			return resp, nil
		}
	}

	return nil, errors.Join(ErrNoResponse, lastErr)
}

// queryElder asks a single elder, retrying up to Retries times.
func (s *Session) queryElder(
	ctx context.Context,
	ep transport.Endpoint,
	elder peer.ID,
	id wire.MessageID,
	data []byte,
) (*wire.QueryResponse, error) {
	var err error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		var resp *wire.QueryResponse
		resp, err = s.queryAttempt(ctx, ep, elder, id, data)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrDuplicateMessageID) {
			break
		}
	}
	return nil, fmt.Errorf("%w %s: %w", ErrElderQuery, elder.ShortString(), err)
}

func (s *Session) queryAttempt(
	ctx context.Context,
	ep transport.Endpoint,
	elder peer.ID,
	id wire.MessageID,
	data []byte,
) (*wire.QueryResponse, error) {
	replies, err := s.reg.AddQuery(elder, id)
	if err != nil {
		return nil, err
	}
	defer s.reg.RemoveQuery(elder, id)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	if err := ep.Send(ctx, elder, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendingQuery, err)
	}

	select {
	case resp := <-replies:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrReceivingQuery, ctx.Err())
	}
}

// voteKey identifies equivalent responses: the sha3-256 digest of the response bytes and
// the length of the history they embed. Envelope fields never take part in it.
func voteKey(resp *wire.QueryResponse) []byte {
	h := sha3.New256()
	h.Write(resp.Response)
	h.Write(binary.BigEndian.AppendUint64(nil, resp.History))
	return h.Sum(nil)
}

func preferLongerHistory(challenger, incumbent *wire.QueryResponse) bool {
	return challenger.History > incumbent.History
}
