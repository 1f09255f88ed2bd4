// Package frame implements the chat wire protocol: a fixed binary header
// followed by an opaque UTF-8 JSON body. All multi-byte integers are
// little-endian on the wire (spec Open Question resolved in favor of
// little-endian, matching the reference implementation's build target).
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/flicker-im/fabric/internal/fkerr"
)

// Magic identifies a Flicker chat frame: ASCII "FKCH".
const Magic uint32 = 0x464B4348

// Version is the only wire version this fabric speaks.
const Version uint16 = 1

// MaxBody bounds the body length the parser will accept.
const MaxBody uint32 = 1 << 20 // 1 MiB

// HeaderSize is the fixed, on-wire byte length of a Header.
const HeaderSize = 4 + 2 + 2 + 4 + 8 + 4

// Type enumerates the frame kinds exchanged over a chat session.
type Type uint16

const (
	AuthRequest Type = iota + 1
	AuthResponse
	Heartbeat
	ChatMessage
	SystemNotification
	ErrorMessage
)

func (t Type) String() string {
	switch t {
	case AuthRequest:
		return "AUTH_REQUEST"
	case AuthResponse:
		return "AUTH_RESPONSE"
	case Heartbeat:
		return "HEARTBEAT"
	case ChatMessage:
		return "CHAT_MESSAGE"
	case SystemNotification:
		return "SYSTEM_NOTIFICATION"
	case ErrorMessage:
		return "ERROR_MESSAGE"
	default:
		return fmt.Sprintf("TYPE(%d)", uint16(t))
	}
}

// Header is the fixed-size preamble in front of every frame body.
type Header struct {
	Magic     uint32
	Version   uint16
	Type      Type
	Length    uint32 // body length in bytes
	Timestamp uint64 // seconds since epoch
	Reserved  uint32
}

// Validate enforces the three wire-level invariants the parser must check
// before trusting Length: magic, version, and the max body size.
func (h Header) Validate() error {
	if h.Magic != Magic {
		return fkerr.ErrBadMagic
	}
	if h.Version != Version {
		return fkerr.ErrBadVersion
	}
	if h.Length > MaxBody {
		return fkerr.ErrBodyTooLarge
	}
	return nil
}

// EncodeHeader writes h in wire order into a HeaderSize-length buffer.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.LittleEndian.PutUint32(buf[8:12], h.Length)
	binary.LittleEndian.PutUint64(buf[12:20], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[20:24], h.Reserved)
	return buf
}

// DecodeHeader reads a HeaderSize-length slice into a Header. The caller
// must ensure len(buf) >= HeaderSize.
func DecodeHeader(buf []byte) Header {
	return Header{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint16(buf[4:6]),
		Type:      Type(binary.LittleEndian.Uint16(buf[6:8])),
		Length:    binary.LittleEndian.Uint32(buf[8:12]),
		Timestamp: binary.LittleEndian.Uint64(buf[12:20]),
		Reserved:  binary.LittleEndian.Uint32(buf[20:24]),
	}
}

// Encode serializes a complete frame: header followed by body. It does not
// validate body length against MaxBody — callers constructing outbound
// frames are trusted; inbound frames are validated by the Parser.
func Encode(typ Type, timestamp uint64, body []byte) []byte {
	h := Header{
		Magic:     Magic,
		Version:   Version,
		Type:      typ,
		Length:    uint32(len(body)),
		Timestamp: timestamp,
	}
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, EncodeHeader(h)...)
	out = append(out, body...)
	return out
}
