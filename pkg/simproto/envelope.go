// Package simproto implements the simulator wire format.
//
// Every datagram carries a 9-byte header followed by a kind-specific body:
//
//	[src:u32][dst:u32][kind:u8][body...]
//
// All integers are big-endian. There is no length field, the datagram
// boundary is the frame boundary.
package simproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type NodeID uint32

const (
	HubID       NodeID = 0
	BroadcastID NodeID = 0xFFFFFFFF
)

const (
	HeaderSize = 9

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507
)

func (id NodeID) String() string {
	switch id {
	case HubID:
		return "HUB"
	case BroadcastID:
		return "BROADCAST"
	default:
		return fmt.Sprintf("%d", uint32(id))
	}
}

// Kind is the envelope type understood by the hub.
type Kind uint8

const (
	Registration Kind = iota
	RegistrationResponse
	Deregistration
	Data
)

func (k Kind) String() string {
	switch k {
	case Registration:
		return "Registration"
	case RegistrationResponse:
		return "RegistrationResponse"
	case Deregistration:
		return "Deregistration"
	case Data:
		return "Data"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Hub registration status carried in a RegistrationResponse body.
const (
	RegDenied   uint8 = 0
	RegAccepted uint8 = 1
)

var (
	ErrInvalidSize = errors.New("simproto: datagram shorter than header")
	ErrEmptyData   = errors.New("simproto: data envelope without protocol type")
)

// Envelope is a decoded datagram.
type Envelope struct {
	Src  NodeID
	Dst  NodeID
	Kind Kind
	Body []byte
}

// Encode serialises an envelope header followed by body.
func Encode(src, dst NodeID, kind Kind, body []byte) []byte {
	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(src))
	binary.BigEndian.PutUint32(buf[4:8], uint32(dst))
	buf[8] = byte(kind)
	copy(buf[HeaderSize:], body)
	return buf
}

// EncodeData builds a Data envelope whose body is [msgType][payload].
func EncodeData(src, dst NodeID, t MsgType, payload []byte) []byte {
	body := make([]byte, 1+len(payload))
	body[0] = byte(t)
	copy(body[1:], payload)
	return Encode(src, dst, Data, body)
}

// Decode parses a datagram. The returned body aliases b.
func Decode(b []byte) (Envelope, error) {
	if len(b) < HeaderSize {
		return Envelope{}, ErrInvalidSize
	}
	return Envelope{
		Src:  NodeID(binary.BigEndian.Uint32(b[0:4])),
		Dst:  NodeID(binary.BigEndian.Uint32(b[4:8])),
		Kind: Kind(b[8]),
		Body: b[HeaderSize:],
	}, nil
}

// IsForMe reports whether the envelope is addressed to self or broadcast.
func (e Envelope) IsForMe(self NodeID) bool {
	return e.Dst == self || e.Dst == BroadcastID
}

func (e Envelope) IsBroadcast() bool { return e.Dst == BroadcastID }

func (e Envelope) IsForHub() bool { return e.Dst == HubID }

func (e Envelope) IsFromHub() bool { return e.Src == HubID }

// Data splits a Data body into its protocol type and application payload.
func (e Envelope) Data() (MsgType, []byte, error) {
	if len(e.Body) == 0 {
		return 0, nil, ErrEmptyData
	}
	return MsgType(e.Body[0]), e.Body[1:], nil
}

// Status returns the registration status of a RegistrationResponse.
func (e Envelope) Status() (uint8, bool) {
	if len(e.Body) == 0 {
		return RegDenied, false
	}
	return e.Body[0], true
}
