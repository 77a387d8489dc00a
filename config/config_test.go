package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iykyk-syn/sectionclient/session"
)

func TestLoad(t *testing.T) {
	idA, idB := test.RandPeerIDFatal(t), test.RandPeerIDFatal(t)
	data := `
contacts = [
  "/ip4/10.0.0.1/udp/4000/quic-v1/p2p/` + idA.String() + `",
  "/ip4/10.0.0.2/udp/4000/quic-v1/p2p/` + idA.String() + `",
  "/ip4/10.0.0.3/udp/4000/quic-v1/p2p/` + idB.String() + `",
]
listen = ["/ip4/127.0.0.1/udp/5000/quic-v1"]
identity = " /tmp/client.key "
query_timeout = "5s"
retries = 1
simulated_payouts = true
`
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Contacts, 2)
	byID := make(map[string]int)
	for _, c := range cfg.Contacts {
		byID[c.ID.String()] = len(c.Addrs)
	}
	assert.Equal(t, 2, byID[idA.String()])
	assert.Equal(t, 1, byID[idB.String()])

	require.Len(t, cfg.ListenAddrs, 1)
	assert.Equal(t, "/ip4/127.0.0.1/udp/5000/quic-v1", cfg.ListenAddrs[0].String())
	assert.Equal(t, "/tmp/client.key", cfg.IdentityPath)
	assert.Equal(t, DefaultSectionTopic, cfg.SectionTopic)

	assert.Equal(t, time.Second*5, cfg.Session.QueryTimeout)
	assert.Equal(t, 1, cfg.Session.Retries)
	assert.True(t, cfg.Session.SimulatedPayouts)
	assert.Equal(t, session.StandardEldersCount, cfg.Session.EldersTarget)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)

	assert.Empty(t, cfg.Contacts)
	assert.Len(t, cfg.ListenAddrs, len(DefaultListenAddrs))
	assert.Equal(t, session.DefaultConfig(), cfg.Session)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad contact", `contacts = ["not-a-multiaddr"]`},
		{"contact without peer", `contacts = ["/ip4/10.0.0.1/udp/4000/quic-v1"]`},
		{"bad listen", `listen = ["/ip4/300.0.0.1/udp/1"]`},
		{"bad timeout", `query_timeout = "soon"`},
		{"invalid session", `elders_target = 0`},
		{"unknown key", `elders = 5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.Error(t, err)
		})
	}
}
