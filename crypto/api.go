// Package crypto defines the signing capability consumed by the section client.
// Key material never leaves a Signer; the rest of the client only sees identities and
// signatures.
package crypto

type PubKey interface {
	VerifySignature([]byte, []byte) bool
	Bytes() []byte
	Equals([]byte) bool
	Type() string
}

type PrivKey interface {
	Sign([]byte) ([]byte, error)
	PubKey() PubKey
	Equals([]byte) bool
	Type() string
}

// Signature is a tuple containing signature body and reference to signing identity.
type Signature struct {
	// Body of the signature.
	Body []byte
	// Signer identity who produced the signature.
	Signer []byte
}

// Signer owns the client's key material.
type Signer interface {
	// ID returns Signer identity, i.e. the public key bytes.
	ID() []byte
	// Sign produces a Signature over the given data with internally managed identity.
	Sign([]byte) (Signature, error)
	// Verify checks the given Signature over data against the identity embedded in it.
	Verify([]byte, Signature) error
}

// KeySet is the public half of a section's threshold key. The client treats it as opaque
// and only carries it around for callers that aggregate signature shares.
type KeySet struct {
	// Threshold is the number of shares required to form a section signature.
	Threshold uint64
	// PublicKey is the encoded section public key.
	PublicKey []byte
}

// SignatureShare is one elder's contribution to a section threshold signature.
type SignatureShare struct {
	Index uint64
	Body  []byte
}
