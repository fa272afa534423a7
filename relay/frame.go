// Package relay implements the length-prefixed TCP relay (C3): an
// ed25519 challenge/response handshake gates each connection, after which
// frames are forwarded between clients keyed by the identity resolved at
// handshake time.
package relay

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/shinkai-node/limits"
)

// MsgType tags the payload carried by a Frame. Only ShinkaiMessage is
// defined; other values are reserved for future use and are forwarded
// unmodified.
type MsgType byte

const (
	// MsgShinkaiMessage is the only currently defined frame payload type.
	MsgShinkaiMessage MsgType = 0x01
)

// maxFrameBytes bounds a single frame's total size, guarding against a
// malformed or hostile length prefix driving an unbounded allocation.
const maxFrameBytes = limits.MaxRelayFrame

// Frame is one length-prefixed relay frame: an identity (the frame's
// claimed sender on first receipt, or the intended recipient on every
// later frame), a message type tag, and an opaque payload.
type Frame struct {
	Identity string
	Type     MsgType
	Payload  []byte
}

// readFrame reads one `u32 total_len | u32 identity_len | identity_bytes |
// u8 msg_type | payload` frame from r.
func readFrame(r io.Reader) (*Frame, error) {
	totalLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if totalLen == 0 || totalLen > maxFrameBytes {
		return nil, fmt.Errorf("relay: frame length %d out of bounds", totalLen)
	}
	body := make([]byte, totalLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("relay: short frame body: %w", err)
	}

	if len(body) < 4 {
		return nil, fmt.Errorf("relay: frame body too short for identity length")
	}
	identityLen := binary.BigEndian.Uint32(body[:4])
	body = body[4:]
	if uint32(len(body)) < identityLen+1 {
		return nil, fmt.Errorf("relay: frame body too short for identity+type")
	}
	identity := string(body[:identityLen])
	if err := limits.ValidateRelayIdentity(identity); err != nil {
		return nil, fmt.Errorf("relay: invalid identity: %w", err)
	}
	body = body[identityLen:]
	msgType := MsgType(body[0])
	payload := body[1:]

	return &Frame{Identity: identity, Type: msgType, Payload: payload}, nil
}

// writeFrame writes f to w in the wire format readFrame expects.
func writeFrame(w io.Writer, f *Frame) error {
	body := make([]byte, 0, 4+len(f.Identity)+1+len(f.Payload))
	var idLen [4]byte
	binary.BigEndian.PutUint32(idLen[:], uint32(len(f.Identity)))
	body = append(body, idLen[:]...)
	body = append(body, f.Identity...)
	body = append(body, byte(f.Type))
	body = append(body, f.Payload...)

	var total [4]byte
	binary.BigEndian.PutUint32(total[:], uint32(len(body)))
	if _, err := w.Write(total[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readUint32 reads a big-endian u32 length prefix, used both for frames
// and for the bare validation/signature lines of the handshake.
func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// writeLengthPrefixed writes `u32 len | data`, the bare framing used by
// the validation nonce and signature response (outside the Frame format).
func writeLengthPrefixed(w io.Writer, data []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readLengthPrefixed reads `u32 len | data`, bounded by maxFrameBytes.
func readLengthPrefixed(r io.Reader) ([]byte, error) {
	length, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if length > maxFrameBytes {
		return nil, fmt.Errorf("relay: length-prefixed field %d out of bounds", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
