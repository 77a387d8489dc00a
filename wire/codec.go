package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"capnproto.org/go/capnp/v3"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/iykyk-syn/sectionclient/crypto"
)

// envelope layout, a single capnp struct shared by every message type.
//
// data section:
//
//	0:  uint16 message type
//	2:  uint16 section result
//	8:  uint64 aux (key set threshold, share index or history length)
//
// pointer section holds the fields listed below.
var envelopeSize = capnp.ObjectSize{DataSize: 16, PointerCount: 8}

const (
	offType   capnp.DataOffset = 0
	offResult capnp.DataOffset = 2
	offAux    capnp.DataOffset = 8
)

const (
	ptrID uint16 = iota
	ptrCorrelation
	ptrSigner
	ptrSignature
	ptrPayload
	ptrPeers
	ptrKey
	ptrReason
)

var errEmptyMessage = errors.New("empty message")

// Encode serializes the Message into its wire envelope.
func Encode(m Message) ([]byte, error) {
	return encode(m, true)
}

// SigningBytes returns the canonical bytes the Message's Origin signs, i.e. its envelope
// without the origin signature.
func SigningBytes(m Message) ([]byte, error) {
	return encode(m, false)
}

// Sign sets the Message's Origin to the signer's signature over SigningBytes.
func Sign(signer crypto.Signer, m Message) error {
	data, err := SigningBytes(m)
	if err != nil {
		return err
	}

	sig, err := signer.Sign(data)
	if err != nil {
		return fmt.Errorf("signing %s(%s): %w", m.Type(), m.Head().ID, err)
	}
	m.Head().Origin = sig
	return nil
}

// Verify checks the Message's Origin using the given signer's verification scheme.
func Verify(verifier crypto.Signer, m Message) error {
	data, err := SigningBytes(m)
	if err != nil {
		return err
	}
	return verifier.Verify(data, m.Head().Origin)
}

func encode(m Message, withOrigin bool) ([]byte, error) {
	if m == nil {
		return nil, errEmptyMessage
	}

	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, fmt.Errorf("creating a segment for capnp: %w", err)
	}

	env, err := capnp.NewRootStruct(seg, envelopeSize)
	if err != nil {
		return nil, fmt.Errorf("creating envelope: %w", err)
	}

	h := m.Head()
	env.SetUint16(offType, uint16(m.Type()))
	if err = env.SetData(ptrID, h.ID[:]); err != nil {
		return nil, err
	}
	if !h.CorrelationID.IsZero() {
		if err = env.SetData(ptrCorrelation, h.CorrelationID[:]); err != nil {
			return nil, err
		}
	}
	if withOrigin {
		if err = setData(env, ptrSigner, h.Origin.Signer); err != nil {
			return nil, err
		}
		if err = setData(env, ptrSignature, h.Origin.Body); err != nil {
			return nil, err
		}
	}

	switch m := m.(type) {
	case *GetSection:
		err = setData(env, ptrPayload, m.ClientKeyHash)
	case *SectionInfo:
		env.SetUint16(offResult, uint16(m.Result))
		if err = setPeers(env, m.Elders); err != nil {
			return nil, err
		}
		if m.KeySet != nil {
			env.SetUint64(offAux, m.KeySet.Threshold)
			err = setData(env, ptrKey, m.KeySet.PublicKey)
		}
	case *Join:
	case *RegisterEndUser:
		err = setPeers(env, []peer.AddrInfo{m.Addr})
	case *Query:
		err = setData(env, ptrPayload, m.Payload)
	case *Cmd:
		err = setData(env, ptrPayload, m.Payload)
	case *TransferValidation:
		err = setData(env, ptrPayload, m.Payload)
	case *QueryResponse:
		env.SetUint64(offAux, m.History)
		err = setData(env, ptrPayload, m.Response)
	case *TransferValidated:
		env.SetUint64(offAux, m.Share.Index)
		err = setData(env, ptrPayload, m.Share.Body)
	case *CmdError:
		err = env.SetText(ptrReason, m.Reason)
	case *Unknown:
		return nil, fmt.Errorf("encoding unknown message type %d", m.Code)
	default:
		return nil, fmt.Errorf("encoding unsupported message %T", m)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Type(), err)
	}

	return msg.Marshal()
}

// Decode parses a wire envelope into a Message.
// Unknown message types decode into *Unknown rather than failing.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, errEmptyMessage
	}

	msg, err := capnp.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling envelope: %w", err)
	}

	root, err := msg.Root()
	if err != nil {
		return nil, fmt.Errorf("reading envelope root: %w", err)
	}
	env := root.Struct()
	if !env.IsValid() {
		return nil, errors.New("envelope root is not a struct")
	}

	var h Header
	rawID, err := readData(env, ptrID)
	if err != nil {
		return nil, err
	}
	if h.ID, err = MessageIDFromBytes(rawID); err != nil {
		return nil, err
	}
	if h.ID.IsZero() {
		return nil, errors.New("message id is missing")
	}
	rawCorrelation, err := readData(env, ptrCorrelation)
	if err != nil {
		return nil, err
	}
	if h.CorrelationID, err = MessageIDFromBytes(rawCorrelation); err != nil {
		return nil, fmt.Errorf("correlation: %w", err)
	}
	if h.Origin.Signer, err = readData(env, ptrSigner); err != nil {
		return nil, err
	}
	if h.Origin.Body, err = readData(env, ptrSignature); err != nil {
		return nil, err
	}

	typ := Type(env.Uint16(offType))
	switch typ {
	case TypeGetSection:
		m := &GetSection{Header: h}
		m.ClientKeyHash, err = readData(env, ptrPayload)
		return m, err
	case TypeSectionInfo:
		m := &SectionInfo{Header: h, Result: SectionResult(env.Uint16(offResult))}
		if m.Elders, err = peers(env); err != nil {
			return nil, err
		}
		if env.HasPtr(ptrKey) {
			key, err := readData(env, ptrKey)
			if err != nil {
				return nil, err
			}
			m.KeySet = &crypto.KeySet{Threshold: env.Uint64(offAux), PublicKey: key}
		}
		return m, nil
	case TypeJoin:
		return &Join{Header: h}, nil
	case TypeRegisterEndUser:
		addrs, err := peers(env)
		if err != nil {
			return nil, err
		}
		if len(addrs) != 1 {
			return nil, fmt.Errorf("register end user carries %d addresses", len(addrs))
		}
		return &RegisterEndUser{Header: h, Addr: addrs[0]}, nil
	case TypeQuery:
		m := &Query{Header: h}
		m.Payload, err = readData(env, ptrPayload)
		return m, err
	case TypeCmd:
		m := &Cmd{Header: h}
		m.Payload, err = readData(env, ptrPayload)
		return m, err
	case TypeTransferValidation:
		m := &TransferValidation{Header: h}
		m.Payload, err = readData(env, ptrPayload)
		return m, err
	case TypeQueryResponse:
		m := &QueryResponse{Header: h, History: env.Uint64(offAux)}
		m.Response, err = readData(env, ptrPayload)
		return m, err
	case TypeTransferValidated:
		m := &TransferValidated{Header: h}
		m.Share.Index = env.Uint64(offAux)
		m.Share.Body, err = readData(env, ptrPayload)
		return m, err
	case TypeCmdError:
		p, err := env.Ptr(ptrReason)
		if err != nil {
			return nil, err
		}
		return &CmdError{Header: h, Reason: p.Text()}, nil
	default:
		return &Unknown{Header: h, Code: typ}, nil
	}
}

func setData(env capnp.Struct, i uint16, v []byte) error {
	if len(v) == 0 {
		return nil
	}
	return env.SetData(i, v)
}

// readData reads a Data pointer, copying it out of the capnp arena.
func readData(env capnp.Struct, i uint16) ([]byte, error) {
	if !env.HasPtr(i) {
		return nil, nil
	}
	p, err := env.Ptr(i)
	if err != nil {
		return nil, err
	}
	data := p.Data()
	if len(data) == 0 {
		return nil, nil
	}
	return bytes.Clone(data), nil
}

// peer lists travel as the JSON form of peer.AddrInfo
func setPeers(env capnp.Struct, infos []peer.AddrInfo) error {
	if len(infos) == 0 {
		return nil
	}
	raw, err := json.Marshal(infos)
	if err != nil {
		return err
	}
	return env.SetData(ptrPeers, raw)
}

func peers(env capnp.Struct) ([]peer.AddrInfo, error) {
	raw, err := readData(env, ptrPeers)
	if err != nil || raw == nil {
		return nil, err
	}

	var infos []peer.AddrInfo
	if err = json.Unmarshal(raw, &infos); err != nil {
		return nil, fmt.Errorf("unmarshalling peers: %w", err)
	}
	return infos, nil
}
