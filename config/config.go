// Package config loads the section client's on-disk TOML configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/iykyk-syn/sectionclient/session"
)

// DefaultSectionTopic is the pubsub topic elders announce section updates on.
const DefaultSectionTopic = "/section/updates/v0.0.1"

// DefaultListenAddrs are the addresses the client listens on when none are configured.
var DefaultListenAddrs = []string{
	"/ip4/0.0.0.0/udp/0/quic-v1",
	"/ip6/::/udp/0/quic-v1",
}

// Config is the client configuration.
type Config struct {
	// Contacts are the peers bootstrap starts from.
	Contacts []peer.AddrInfo
	// ListenAddrs are the addresses the client's host listens on.
	ListenAddrs []multiaddr.Multiaddr
	// IdentityPath is where the client key is kept. Empty selects the default location.
	IdentityPath string
	// SectionTopic is the pubsub topic to follow section updates on. Empty disables it.
	SectionTopic string
	Session      session.Config
}

type fileConfig struct {
	Contacts           []string `toml:"contacts"`
	Listen             []string `toml:"listen"`
	Identity           string   `toml:"identity"`
	SectionTopic       string   `toml:"section_topic"`
	EldersTarget       int      `toml:"elders_target"`
	EldersSlack        int      `toml:"elders_slack"`
	Retries            int      `toml:"retries"`
	QueryTimeout       string   `toml:"query_timeout"`
	MaxRedirects       int      `toml:"max_redirects"`
	NotificationBuffer int      `toml:"notification_buffer"`
	SimulatedPayouts   bool     `toml:"simulated_payouts"`
}

// Default returns the Config used for everything a file leaves out.
func Default() Config {
	listen, err := ParseMultiaddrs(DefaultListenAddrs)
	if err != nil {
		panic(err)
	}
	return Config{
		ListenAddrs:  listen,
		SectionTopic: DefaultSectionTopic,
		Session:      session.DefaultConfig(),
	}
}

// Load reads the TOML config at the given path.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return fromFile(meta, raw)
}

// Parse reads a TOML config from its text.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return fromFile(meta, raw)
}

func fromFile(meta toml.MetaData, raw fileConfig) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	cfg := Default()
	var err error
	if meta.IsDefined("contacts") {
		if cfg.Contacts, err = ParseContacts(raw.Contacts); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("listen") {
		if cfg.ListenAddrs, err = ParseMultiaddrs(raw.Listen); err != nil {
			return Config{}, fmt.Errorf("parse listen: %w", err)
		}
	}
	if meta.IsDefined("identity") {
		cfg.IdentityPath = strings.TrimSpace(raw.Identity)
	}
	if meta.IsDefined("section_topic") {
		cfg.SectionTopic = strings.TrimSpace(raw.SectionTopic)
	}

	if meta.IsDefined("elders_target") {
		cfg.Session.EldersTarget = raw.EldersTarget
	}
	if meta.IsDefined("elders_slack") {
		cfg.Session.EldersSlack = raw.EldersSlack
	}
	if meta.IsDefined("retries") {
		cfg.Session.Retries = raw.Retries
	}
	if meta.IsDefined("query_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.QueryTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse query_timeout: %w", err)
		}
		cfg.Session.QueryTimeout = d
	}
	if meta.IsDefined("max_redirects") {
		cfg.Session.MaxRedirects = raw.MaxRedirects
	}
	if meta.IsDefined("notification_buffer") {
		cfg.Session.NotificationBuffer = raw.NotificationBuffer
	}
	if meta.IsDefined("simulated_payouts") {
		cfg.Session.SimulatedPayouts = raw.SimulatedPayouts
	}

	if err := cfg.Session.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseContacts parses p2p multiaddrs into contacts, merging addresses of the same peer.
func ParseContacts(addrs []string) ([]peer.AddrInfo, error) {
	maddrs, err := ParseMultiaddrs(addrs)
	if err != nil {
		return nil, fmt.Errorf("parse contacts: %w", err)
	}

	contacts, err := peer.AddrInfosFromP2pAddrs(maddrs...)
	if err != nil {
		return nil, fmt.Errorf("parse contacts: %w", err)
	}
	return contacts, nil
}

// ParseMultiaddrs parses the non-blank strings as multiaddrs.
func ParseMultiaddrs(addrs []string) ([]multiaddr.Multiaddr, error) {
	maddrs := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("multiaddr %q: %w", addr, err)
		}
		maddrs = append(maddrs, maddr)
	}
	return maddrs, nil
}
