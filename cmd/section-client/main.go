package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	p2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/config"
	"github.com/iykyk-syn/sectionclient/crypto/ed25519"
	"github.com/iykyk-syn/sectionclient/crypto/local"
	"github.com/iykyk-syn/sectionclient/session"
	"github.com/iykyk-syn/sectionclient/transport"
	"github.com/iykyk-syn/sectionclient/wire"
)

var (
	configPath string
	contact    string
	query      string
	follow     bool
	debug      bool
)

func init() {
	flag.StringVar(&configPath, "config", "",
		"Path to the TOML config file",
	)
	flag.StringVar(&contact, "contact", "",
		"Contact p2p multiaddr to bootstrap from, in addition to the configured ones",
	)
	flag.StringVar(&query, "query", "",
		"Query payload to send once bootstrapped. Skips if empty",
	)
	flag.BoolVar(&follow, "follow", true,
		"Follow section updates announced over pubsub",
	)
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Println(err)
		defer os.Exit(1)
		return
	}
}

func run(ctx context.Context) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if contact != "" {
		contacts, err := config.ParseContacts([]string{contact})
		if err != nil {
			return fmt.Errorf("wrong contact multiaddr: %w", err)
		}
		cfg.Contacts = append(cfg.Contacts, contacts...)
	}

	p2pKey, err := getIdentity(cfg.IdentityPath)
	if err != nil {
		return err
	}
	privKey, err := ed25519.FromLibp2p(p2pKey)
	if err != nil {
		return err
	}
	signer, err := local.NewSigner(privKey)
	if err != nil {
		return err
	}

	host, err := libp2p.New(
		libp2p.Identity(p2pKey),
		libp2p.ListenAddrs(cfg.ListenAddrs...),
		libp2p.ResourceManager(&network.NullResourceManager{}),
	)
	if err != nil {
		return err
	}
	defer host.Close()

	addrs, err := peer.AddrInfoToP2pAddrs(p2phost.InfoFromHost(host))
	if err != nil {
		return err
	}

	fmt.Println("The p2p host is listening on:")
	for _, addr := range addrs {
		fmt.Println("* ", addr.String())
	}
	fmt.Println()

	ep := transport.NewHost(host)
	defer ep.Close()

	s, err := session.Bootstrap(ctx, ep, signer, cfg.Contacts, cfg.Session)
	if err != nil {
		return err
	}
	defer s.Close()
	slog.Info("connected to section", "elders", s.NumberOfConnectedElders())

	if follow && cfg.SectionTopic != "" {
		pSub, err := pubsub.NewFloodSub(ctx, host)
		if err != nil {
			return err
		}
		go func() {
			if err := s.FollowSection(ctx, pSub, cfg.SectionTopic); err != nil {
				slog.Error("following section", "err", err)
			}
		}()
	}

	if query != "" {
		resp, err := s.SendQuery(ctx, &wire.Query{Payload: []byte(query)})
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", resp.Response)
	}

	for {
		select {
		case err := <-s.Notifications():
			slog.Warn("section", "err", err)
		case <-s.Done():
			return s.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

const dir = ".section-client"

// getIdentity loads the libp2p key at the given path, generating and persisting a new one
// when it does not exist yet. An empty path selects the key under the home directory.
func getIdentity(path string) (libp2pcrypto.PrivKey, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, dir, "key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return newIdentity(path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	keyBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return libp2pcrypto.UnmarshalPrivateKey(keyBytes)
}

func newIdentity(path string) (libp2pcrypto.PrivKey, error) {
	privKey, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	keyBytes, err := libp2pcrypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if err = os.WriteFile(path, keyBytes, 0o600); err != nil {
		return nil, err
	}

	slog.Info("generated identity", "path", path)
	return privKey, nil
}
