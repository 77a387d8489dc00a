// Package wire defines the messages exchanged between a client and section elders and
// their binary envelope.
//
// Messages form a closed union: every concrete type implements Message and Decode returns
// one of them, or *Unknown for types this client does not understand.
package wire

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/crypto"
)

// Type discriminates messages on the wire.
type Type uint16

const (
	TypeUnknown Type = iota
	TypeGetSection
	TypeSectionInfo
	TypeJoin
	TypeRegisterEndUser
)

// Client-class message types start at clientTypesStart.
const (
	TypeQuery Type = iota + clientTypesStart
	TypeCmd
	TypeTransferValidation
	TypeQueryResponse
	TypeTransferValidated
	TypeCmdError
)

const clientTypesStart = 16

// Kind groups message types into the classes the listener routes on.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSection
	KindClient
)

// Kind reports the class of the message Type.
func (t Type) Kind() Kind {
	switch {
	case t >= TypeGetSection && t <= TypeRegisterEndUser:
		return KindSection
	case t >= TypeQuery && t <= TypeCmdError:
		return KindClient
	default:
		return KindUnknown
	}
}

func (t Type) String() string {
	switch t {
	case TypeGetSection:
		return "GetSection"
	case TypeSectionInfo:
		return "SectionInfo"
	case TypeJoin:
		return "Join"
	case TypeRegisterEndUser:
		return "RegisterEndUser"
	case TypeQuery:
		return "Query"
	case TypeCmd:
		return "Cmd"
	case TypeTransferValidation:
		return "TransferValidation"
	case TypeQueryResponse:
		return "QueryResponse"
	case TypeTransferValidated:
		return "TransferValidated"
	case TypeCmdError:
		return "CmdError"
	default:
		return "Unknown"
	}
}

// Message is implemented by every type in this package's message union.
type Message interface {
	// Type returns the wire discriminant of the Message.
	Type() Type
	// Head gives access to the fields shared by every Message.
	Head() *Header
}

// Header holds the fields shared by every Message.
type Header struct {
	// ID uniquely identifies the Message.
	ID MessageID
	// CorrelationID references the request a reply answers. Zero for requests.
	CorrelationID MessageID
	// Origin is the sender's signature over the Message with Origin unset.
	Origin crypto.Signature
}

func (h *Header) Head() *Header { return h }

// SectionResult discriminates the answers an elder gives to GetSection.
type SectionResult uint16

const (
	SectionUnknown SectionResult = iota
	// SectionSuccess carries the elders and key set of the client's section.
	SectionSuccess
	// SectionRedirect tells the client to retry against other contacts.
	SectionRedirect
	// SectionUpdate carries refreshed membership, either solicited or pushed.
	SectionUpdate
)

func (r SectionResult) String() string {
	switch r {
	case SectionSuccess:
		return "success"
	case SectionRedirect:
		return "redirect"
	case SectionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// GetSection asks a contact for the section serving the client.
type GetSection struct {
	Header
	// ClientKeyHash is the sha3-256 digest of the client's public key.
	ClientKeyHash []byte
}

func (*GetSection) Type() Type { return TypeGetSection }

// SectionInfo answers GetSection or announces a membership change.
type SectionInfo struct {
	Header
	Result SectionResult
	// Elders are the section's elders, or the contacts to retry for SectionRedirect.
	Elders []peer.AddrInfo
	// KeySet of the section. Nil for SectionRedirect.
	KeySet *crypto.KeySet
}

func (*SectionInfo) Type() Type { return TypeSectionInfo }

// Join registers the client with a single elder.
type Join struct {
	Header
}

func (*Join) Type() Type { return TypeJoin }

// RegisterEndUser announces the client's externally reachable address to the section.
type RegisterEndUser struct {
	Header
	Addr peer.AddrInfo
}

func (*RegisterEndUser) Type() Type { return TypeRegisterEndUser }

// Query is a read request answered by every elder.
type Query struct {
	Header
	Payload []byte
}

func (*Query) Type() Type { return TypeQuery }

// Cmd is a mutating request without a reply.
type Cmd struct {
	Header
	Payload []byte
}

func (*Cmd) Type() Type { return TypeCmd }

// TransferValidation asks elders to validate a transfer and reply with signature shares.
type TransferValidation struct {
	Header
	Payload []byte
}

func (*TransferValidation) Type() Type { return TypeTransferValidation }

// QueryResponse is an elder's answer to a Query.
type QueryResponse struct {
	Header
	Response []byte
	// History is the number of history entries embedded in Response, zero when the
	// response carries none.
	History uint64
}

func (*QueryResponse) Type() Type { return TypeQueryResponse }

// TransferValidated carries an elder's signature share over a validated transfer.
type TransferValidated struct {
	Header
	Share crypto.SignatureShare
}

func (*TransferValidated) Type() Type { return TypeTransferValidated }

// CmdError reports that an elder rejected a command.
type CmdError struct {
	Header
	Reason string
}

func (*CmdError) Type() Type { return TypeCmdError }

// Unknown is decoded for message types this client does not know about.
type Unknown struct {
	Header
	Code Type
}

func (u *Unknown) Type() Type { return u.Code }
