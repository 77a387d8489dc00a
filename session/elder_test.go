package session

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"

	"github.com/iykyk-syn/sectionclient/crypto"
	"github.com/iykyk-syn/sectionclient/crypto/local"
	"github.com/iykyk-syn/sectionclient/transport"
	"github.com/iykyk-syn/sectionclient/wire"
)

// testConfig shortens timeouts so unreachable elders fail fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retries = 1
	cfg.QueryTimeout = time.Millisecond * 300
	return cfg
}

var testKeySet = &crypto.KeySet{Threshold: 3, PublicKey: []byte("section-key")}

// testNet is a mock network of a client and a number of fake elders.
type testNet struct {
	net    mocknet.Mocknet
	client *transport.Host
	signer *local.Signer
	elders []*fakeElder
}

func newTestNet(ctx context.Context, t *testing.T, elderCount int) *testNet {
	net, err := mocknet.FullMeshLinked(elderCount + 1)
	require.NoError(t, err)
	t.Cleanup(func() { net.Close() })

	signer, err := local.Generate()
	require.NoError(t, err)

	hs := net.Hosts()
	tn := &testNet{
		net:    net,
		client: transport.NewHost(hs[0]),
		signer: signer,
		elders: make([]*fakeElder, elderCount),
	}
	t.Cleanup(func() { tn.client.Close() })

	for i, h := range hs[1:] {
		tn.elders[i] = newFakeElder(ctx, t, transport.NewHost(h), uint64(i))
	}
	return tn
}

// section builds a successful SectionInfo naming the given elders.
func (tn *testNet) section(result wire.SectionResult, elders ...*fakeElder) *wire.SectionInfo {
	info := &wire.SectionInfo{Result: result, KeySet: testKeySet}
	if result == wire.SectionRedirect {
		info.KeySet = nil
	}
	for _, e := range elders {
		info.Elders = append(info.Elders, e.ep.Self())
	}
	return info
}

// bootstrap serves a section of the given elders, or all of them, from the first elder
// and bootstraps the client against it.
func (tn *testNet) bootstrap(ctx context.Context, t *testing.T, cfg Config, elders ...*fakeElder) *Session {
	if len(elders) == 0 {
		elders = tn.elders
	}
	elders[0].setSection(tn.section(wire.SectionSuccess, elders...))

	s, err := Bootstrap(ctx, tn.client, tn.signer, []peer.AddrInfo{elders[0].ep.Self()}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ids(infos []peer.AddrInfo) []peer.ID {
	out := make([]peer.ID, len(infos))
	for i, info := range infos {
		out[i] = info.ID
	}
	return out
}

// sameElders reports whether the Session is connected to exactly the given elders.
func sameElders(s *Session, elders ...*fakeElder) bool {
	want := elderIDs(elders...)
	slices.Sort(want)
	return slices.Equal(want, ids(s.Elders()))
}

func elderIDs(elders ...*fakeElder) []peer.ID {
	out := make([]peer.ID, len(elders))
	for i, e := range elders {
		out[i] = e.ep.Self().ID
	}
	return out
}

// fakeElder answers client requests the way its handlers are configured to.
type fakeElder struct {
	ep    *transport.Host
	index uint64

	mu         sync.Mutex
	sectionFn  func() wire.Message
	queryFn    func(*wire.Query) *wire.QueryResponse
	transferFn func(*wire.TransferValidation) wire.Message
	joins      int
	registered []peer.AddrInfo

	cmds chan *wire.Cmd
}

func newFakeElder(ctx context.Context, t *testing.T, ep *transport.Host, index uint64) *fakeElder {
	e := &fakeElder{
		ep:    ep,
		index: index,
		cmds:  make(chan *wire.Cmd, 16),
	}
	t.Cleanup(func() { ep.Close() })

	go func() {
		for {
			in, err := ep.Next(ctx)
			if err != nil {
				return
			}
			msg, err := wire.Decode(in.Data)
			if err != nil {
				continue
			}
			e.handle(ctx, in.From, msg)
		}
	}()
	return e
}

func (e *fakeElder) setSection(info *wire.SectionInfo) {
	e.setSectionReply(func() wire.Message {
		reply := *info
		return &reply
	})
}

func (e *fakeElder) setSectionReply(fn func() wire.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sectionFn = fn
}

func (e *fakeElder) answer(response string, history uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryFn = func(*wire.Query) *wire.QueryResponse {
		return &wire.QueryResponse{Response: []byte(response), History: history}
	}
}

func (e *fakeElder) echo() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryFn = func(q *wire.Query) *wire.QueryResponse {
		return &wire.QueryResponse{Response: q.Payload}
	}
}

func (e *fakeElder) validate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transferFn = func(*wire.TransferValidation) wire.Message {
		return &wire.TransferValidated{Share: crypto.SignatureShare{Index: e.index, Body: []byte("share")}}
	}
}

func (e *fakeElder) reject(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transferFn = func(*wire.TransferValidation) wire.Message {
		return &wire.CmdError{Reason: reason}
	}
}

// unreachable stops accepting messages, so every send to the elder fails.
func (e *fakeElder) unreachable() {
	e.ep.Close()
}

func (e *fakeElder) joined() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joins
}

func (e *fakeElder) endUsers() []peer.AddrInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registered
}

func (e *fakeElder) handle(ctx context.Context, from peer.ID, msg wire.Message) {
	e.mu.Lock()
	var reply wire.Message
	switch m := msg.(type) {
	case *wire.GetSection:
		if e.sectionFn != nil {
			reply = e.sectionFn()
		}
	case *wire.Join:
		e.joins++
	case *wire.RegisterEndUser:
		e.registered = append(e.registered, m.Addr)
	case *wire.Query:
		if e.queryFn != nil {
			if resp := e.queryFn(m); resp != nil {
				reply = resp
			}
		}
	case *wire.Cmd:
		e.cmds <- m
	case *wire.TransferValidation:
		if e.transferFn != nil {
			reply = e.transferFn(m)
		}
	}
	e.mu.Unlock()

	if reply != nil {
		reply.Head().ID = wire.NewMessageID()
		reply.Head().CorrelationID = msg.Head().ID
		e.send(ctx, from, reply)
	}
}

// send delivers an unsolicited message to the client.
func (e *fakeElder) send(ctx context.Context, to peer.ID, msg wire.Message) error {
	if msg.Head().ID.IsZero() {
		msg.Head().ID = wire.NewMessageID()
	}
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return e.ep.Send(ctx, to, data)
}
