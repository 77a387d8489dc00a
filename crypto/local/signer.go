package local

import (
	"errors"
	"fmt"

	"github.com/iykyk-syn/sectionclient/crypto"
	"github.com/iykyk-syn/sectionclient/crypto/ed25519"
)

// Signer is an in-process crypto.Signer holding an Ed25519 key.
type Signer struct {
	privKey crypto.PrivKey
	pubKey  crypto.PubKey
}

func NewSigner(privKey crypto.PrivKey) (*Signer, error) {
	if privKey == nil {
		return nil, errors.New("nil private key")
	}

	pubKey := privKey.PubKey()
	if len(pubKey.Bytes()) == 0 {
		return nil, errors.New("invalid pubKey derived")
	}

	return &Signer{
		privKey: privKey,
		pubKey:  pubKey,
	}, nil
}

// Generate creates a Signer with a fresh random identity.
func Generate() (*Signer, error) {
	_, privKey, err := ed25519.GenKeys()
	if err != nil {
		return nil, err
	}
	return NewSigner(privKey)
}

func (s *Signer) ID() []byte {
	return s.pubKey.Bytes()
}

func (s *Signer) PubKey() crypto.PubKey {
	return s.pubKey
}

func (s *Signer) Sign(msg []byte) (crypto.Signature, error) {
	signature, err := s.privKey.Sign(msg)
	if err != nil {
		return crypto.Signature{}, err
	}

	return crypto.Signature{
		Signer: s.ID(),
		Body:   signature,
	}, nil
}

func (s *Signer) Verify(msg []byte, signature crypto.Signature) error {
	pubK, err := ed25519.BytesToPubKey(signature.Signer)
	if err != nil {
		return fmt.Errorf("decoding signer key: %w", err)
	}

	if !pubK.VerifySignature(msg, signature.Body) {
		return errors.New("signature is invalid")
	}
	return nil
}
