package session

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iykyk-syn/sectionclient/wire"
)

func TestBootstrap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, StandardEldersCount)
	s := tn.bootstrap(ctx, t, testConfig())

	assert.Equal(t, StandardEldersCount, s.NumberOfConnectedElders())
	assert.ElementsMatch(t, elderIDs(tn.elders...), ids(s.Elders()))
	assert.Equal(t, testKeySet, s.SectionKey())
	select {
	case <-s.KeySetReady():
	default:
		t.Fatal("key set is not signalled")
	}

	for _, e := range tn.elders {
		require.Eventually(t, func() bool {
			return e.joined() == 1 && len(e.endUsers()) == 1
		}, time.Second, time.Millisecond*10)
		assert.Equal(t, tn.client.Self().ID, e.endUsers()[0].ID)
	}
}

func TestBootstrapRedirect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, StandardEldersCount+1)
	contact, elders := tn.elders[0], tn.elders[1:]
	contact.setSection(tn.section(wire.SectionRedirect, elders[0]))
	elders[0].setSection(tn.section(wire.SectionSuccess, elders...))

	s, err := Bootstrap(ctx, tn.client, tn.signer, []peer.AddrInfo{contact.ep.Self()}, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	assert.ElementsMatch(t, elderIDs(elders...), ids(s.Elders()))
	assert.NotContains(t, ids(s.Elders()), contact.ep.Self().ID)
	assert.Zero(t, contact.joined())
}

func TestBootstrapTooManyRedirects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, 1)
	contact := tn.elders[0]
	contact.setSection(tn.section(wire.SectionRedirect, contact))

	cfg := testConfig()
	cfg.MaxRedirects = 2
	_, err := Bootstrap(ctx, tn.client, tn.signer, []peer.AddrInfo{contact.ep.Self()}, cfg)
	require.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestBootstrapNextContact(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, StandardEldersCount+1)
	down, elders := tn.elders[0], tn.elders[1:]
	down.unreachable()
	elders[0].setSection(tn.section(wire.SectionSuccess, elders...))

	contacts := []peer.AddrInfo{down.ep.Self(), elders[0].ep.Self()}
	s, err := Bootstrap(ctx, tn.client, tn.signer, contacts, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	assert.ElementsMatch(t, elderIDs(elders...), ids(s.Elders()))
}

func TestBootstrapNoContactAnswers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, 2)
	// the first contact is down and the second never answers
	tn.elders[0].unreachable()

	contacts := []peer.AddrInfo{tn.elders[0].ep.Self(), tn.elders[1].ep.Self()}
	_, err := Bootstrap(ctx, tn.client, tn.signer, contacts, testConfig())
	require.ErrorIs(t, err, ErrBootstrap)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = Bootstrap(ctx, tn.client, tn.signer, nil, testConfig())
	require.ErrorIs(t, err, ErrBootstrap)
}

func TestBootstrapInsufficientElders(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, StandardEldersCount)
	for _, e := range tn.elders[2:] {
		e.unreachable()
	}
	tn.elders[0].setSection(tn.section(wire.SectionSuccess, tn.elders...))

	_, err := Bootstrap(ctx, tn.client, tn.signer, []peer.AddrInfo{tn.elders[0].ep.Self()}, testConfig())
	require.ErrorIs(t, err, ErrInsufficientElderConnections)
	require.ErrorIs(t, err, ErrElderConnection)
}

func TestBootstrapDegraded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, StandardEldersCount)
	for _, e := range tn.elders[3:] {
		e.unreachable()
	}

	s := tn.bootstrap(ctx, t, testConfig())
	assert.Equal(t, 3, s.NumberOfConnectedElders())
	assert.ElementsMatch(t, elderIDs(tn.elders[:3]...), ids(s.Elders()))
}

func TestBootstrapUnexpectedMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, 2)
	tn.elders[0].setSectionReply(func() wire.Message {
		return &wire.QueryResponse{Response: []byte("not a section")}
	})
	tn.elders[1].setSection(tn.section(wire.SectionSuccess, tn.elders...))

	// the protocol violation is fatal, the second contact is never asked
	contacts := []peer.AddrInfo{tn.elders[0].ep.Self(), tn.elders[1].ep.Self()}
	_, err := Bootstrap(ctx, tn.client, tn.signer, contacts, testConfig())
	require.ErrorIs(t, err, ErrUnexpectedMessageOnJoin)
}

func TestBootstrapInvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	tn := newTestNet(ctx, t, 1)
	cfg := testConfig()
	cfg.EldersTarget = 0

	_, err := Bootstrap(ctx, tn.client, tn.signer, []peer.AddrInfo{tn.elders[0].ep.Self()}, cfg)
	require.Error(t, err)
}
