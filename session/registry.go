package session

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/wire"
)

// TransferResult is a single outcome of a transfer validation: a signature share, or the
// reason an elder rejected the transfer.
type TransferResult struct {
	Share *wire.TransferValidated
	Err   error
}

type queryKey struct {
	elder peer.ID
	id    wire.MessageID
}

// transferEntry queues results for a sink, so a slow sink only holds back its own
// transfer and never the listener.
type transferEntry struct {
	sink    chan<- TransferResult
	removed chan struct{}

	mu      sync.Mutex
	pending []TransferResult
	signal  chan struct{}
}

func (e *transferEntry) push(res TransferResult) {
	e.mu.Lock()
	e.pending = append(e.pending, res)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// forward drains the queue into the sink until the entry is removed or the context is done.
func (e *transferEntry) forward(ctx context.Context) {
	for {
		select {
		case <-e.signal:
		case <-e.removed:
			return
		case <-ctx.Done():
			return
		}

		e.mu.Lock()
		batch := e.pending
		e.pending = nil
		e.mu.Unlock()

		for _, res := range batch {
			select {
			case e.sink <- res:
			case <-e.removed:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

type sectionEntry struct {
	contact peer.ID
	replies chan wire.Message
}

// registry correlates inbound replies with the requests waiting for them.
// All removals except RemoveTransfer tolerate absent keys, so abandoned waiters can
// clean up after the request has been resolved elsewhere.
type registry struct {
	mu        sync.Mutex
	queries   map[queryKey]chan *wire.QueryResponse
	transfers map[wire.MessageID]*transferEntry
	sections  map[wire.MessageID]sectionEntry
}

func newRegistry() *registry {
	return &registry{
		queries:   make(map[queryKey]chan *wire.QueryResponse),
		transfers: make(map[wire.MessageID]*transferEntry),
		sections:  make(map[wire.MessageID]sectionEntry),
	}
}

// AddQuery registers a waiter for the reply of the given elder to the given query.
func (r *registry) AddQuery(elder peer.ID, id wire.MessageID) (<-chan *wire.QueryResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := queryKey{elder: elder, id: id}
	if _, ok := r.queries[key]; ok {
		return nil, ErrDuplicateMessageID
	}

	ch := make(chan *wire.QueryResponse, 1) // single shot, never blocks the listener
	r.queries[key] = ch
	return ch, nil
}

// DeliverQuery hands the response to its waiter. The first reply wins.
func (r *registry) DeliverQuery(from peer.ID, resp *wire.QueryResponse) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := queryKey{elder: from, id: resp.CorrelationID}
	ch, ok := r.queries[key]
	if !ok {
		return false
	}
	delete(r.queries, key)
	ch <- resp
	return true
}

func (r *registry) RemoveQuery(elder peer.ID, id wire.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queries, queryKey{elder: elder, id: id})
}

// AddTransfer registers the sink every result correlated to the given id is forwarded
// to, until the entry is removed or the context is done.
func (r *registry) AddTransfer(ctx context.Context, id wire.MessageID, sink chan<- TransferResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transfers[id]; ok {
		return ErrDuplicateMessageID
	}
	entry := &transferEntry{
		sink:    sink,
		removed: make(chan struct{}),
		signal:  make(chan struct{}, 1),
	}
	r.transfers[id] = entry
	go entry.forward(ctx)
	return nil
}

// DeliverTransfer queues the result for the sink registered for id. It never blocks.
func (r *registry) DeliverTransfer(id wire.MessageID, res TransferResult) bool {
	r.mu.Lock()
	entry, ok := r.transfers[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	entry.push(res)
	return true
}

func (r *registry) RemoveTransfer(id wire.MessageID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.transfers[id]
	if !ok {
		return ErrNoTransferValidationListener
	}
	delete(r.transfers, id)
	close(entry.removed)
	return nil
}

// AddSection registers a waiter for whatever reply the contact correlates to the given
// request.
func (r *registry) AddSection(contact peer.ID, id wire.MessageID) (<-chan wire.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sections[id]; ok {
		return nil, ErrDuplicateMessageID
	}
	ch := make(chan wire.Message, 1)
	r.sections[id] = sectionEntry{contact: contact, replies: ch}
	return ch, nil
}

// DeliverSection hands a reply to the waiter registered for its correlation id, as long
// as it comes from the contact the request was sent to.
func (r *registry) DeliverSection(from peer.ID, msg wire.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := msg.Head().CorrelationID
	entry, ok := r.sections[id]
	if !ok || entry.contact != from {
		return false
	}
	delete(r.sections, id)
	entry.replies <- msg
	return true
}

func (r *registry) RemoveSection(id wire.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sections, id)
}
