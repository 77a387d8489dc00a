package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iykyk-syn/sectionclient/crypto"
	"github.com/iykyk-syn/sectionclient/crypto/ed25519"
)

func TestSigner(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	msg := []byte("get section")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	assert.Equal(t, signer.ID(), sig.Signer)

	require.NoError(t, signer.Verify(msg, sig))
	assert.Error(t, signer.Verify([]byte("tampered"), sig))

	other, err := Generate()
	require.NoError(t, err)
	forged := crypto.Signature{Body: sig.Body, Signer: other.ID()}
	assert.Error(t, signer.Verify(msg, forged))
}

func TestSignerRejectsMalformedKey(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	err = signer.Verify([]byte("msg"), crypto.Signature{Body: []byte{1}, Signer: []byte{2}})
	assert.Error(t, err)
}

func TestNewSignerFromKey(t *testing.T) {
	pub, priv, err := ed25519.GenKeys()
	require.NoError(t, err)

	signer, err := NewSigner(priv)
	require.NoError(t, err)
	assert.True(t, pub.Equals(signer.ID()))

	_, err = NewSigner(nil)
	assert.Error(t, err)
}
