package ed25519

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	sectioncrypto "github.com/iykyk-syn/sectionclient/crypto"
)

// KeyType names the key scheme of this package.
const KeyType = "ed25519"

// PublicKey is a raw ed25519 public key verifying elder and client signatures.
type PublicKey []byte

func (pubKey PublicKey) VerifySignature(msg []byte, sig []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), msg, sig)
}

func (pubKey PublicKey) Equals(other []byte) bool {
	if len(other) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.PublicKey(pubKey).Equal(ed25519.PublicKey(other))
}

func (pubKey PublicKey) Bytes() []byte {
	return pubKey
}

func (pubKey PublicKey) Type() string {
	return KeyType
}

// PrivateKey is a raw ed25519 private key. It is what a client identity signs with.
type PrivateKey []byte

// Sign signs the message with pure Ed25519, which requires a zero hash option.
func (privKey PrivateKey) Sign(msg []byte) ([]byte, error) {
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key length")
	}
	return ed25519.PrivateKey(privKey).Sign(rand.Reader, msg, crypto.Hash(0))
}

func (privKey PrivateKey) PubKey() sectioncrypto.PubKey {
	public := ed25519.PrivateKey(privKey).Public().(ed25519.PublicKey)
	key := make(PublicKey, ed25519.PublicKeySize)
	copy(key, public)
	return key
}

func (privKey PrivateKey) Equals(other []byte) bool {
	if len(other) != ed25519.PrivateKeySize {
		return false
	}
	return ed25519.PrivateKey(privKey).Equal(ed25519.PrivateKey(other))
}

func (privKey PrivateKey) Type() string {
	return KeyType
}

// GenKeys generates a fresh key pair.
func GenKeys() (PublicKey, PrivateKey, error) {
	pubK, privK, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	public := make(PublicKey, ed25519.PublicKeySize)
	copy(public, pubK)
	private := make(PrivateKey, ed25519.PrivateKeySize)
	copy(private, privK)

	return public, private, nil
}

// BytesToPubKey copies a raw public key out of a signature or the wire.
func BytesToPubKey(b []byte) (PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.New("invalid key length")
	}

	key := make(PublicKey, ed25519.PublicKeySize)
	copy(key, b)
	return key, nil
}

// FromLibp2p extracts the raw Ed25519 key out of a libp2p identity key, so the client
// signs with the same identity its transport host authenticates with.
func FromLibp2p(key libp2pcrypto.PrivKey) (PrivateKey, error) {
	if key.Type() != libp2pcrypto.Ed25519 {
		return nil, fmt.Errorf("unsupported libp2p key type %s", key.Type())
	}

	raw, err := key.Raw()
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key length")
	}
	return PrivateKey(raw), nil
}
