package wire

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// MessageIDSize is the length of a MessageID in bytes.
const MessageIDSize = 32

// MessageID correlates an outbound request with the replies it produces.
type MessageID [MessageIDSize]byte

// NewMessageID draws a random MessageID.
func NewMessageID() MessageID {
	var id MessageID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("reading randomness for message id: %v", err))
	}
	return id
}

// MessageIDFromBytes converts a wire representation into a MessageID.
// Empty input yields the zero MessageID.
func MessageIDFromBytes(b []byte) (MessageID, error) {
	var id MessageID
	if len(b) == 0 {
		return id, nil
	}
	if len(b) != MessageIDSize {
		return id, fmt.Errorf("invalid message id length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether the MessageID was never assigned.
func (id MessageID) IsZero() bool {
	return id == MessageID{}
}

func (id MessageID) String() string {
	return hex.EncodeToString(id[:6])
}
