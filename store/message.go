package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/opd-ai/shinkai-node/crypto"
)

// EncryptionMode tags how a message's body is encoded on the wire.
type EncryptionMode int

const (
	// EncryptionNone means the body is plaintext.
	EncryptionNone EncryptionMode = iota
	// EncryptionBox means the body was sealed with crypto.Encrypt (NaCl box).
	EncryptionBox
)

// InternalMetadata addresses a message within a node's profiles.
type InternalMetadata struct {
	SenderSubIdentity    string
	RecipientSubIdentity string
	InboxName            string
	EncryptionMode       EncryptionMode
}

// ExternalMetadata addresses a message between nodes and carries its
// signature.
type ExternalMetadata struct {
	SenderNode    string
	RecipientNode string
	ScheduledTime time.Time
	Signature     crypto.Signature
}

// Message is a signed envelope: a body plus internal/external metadata.
type Message struct {
	SchemaTag string
	Body      []byte
	Internal  InternalMetadata
	External  ExternalMetadata
}

// encode produces the canonical byte serialization of the message. When
// zeroSignature is true the external-metadata signature field is encoded
// as all zeros, matching the canonicalization rule used to build the
// digest that gets signed/verified. Content-addressing uses
// zeroSignature=false, hashing the message exactly as it will be stored.
func (m *Message) encode(zeroSignature bool) []byte {
	var buf []byte
	buf = appendString(buf, m.SchemaTag)
	buf = appendBytes(buf, m.Body)
	buf = appendString(buf, m.Internal.SenderSubIdentity)
	buf = appendString(buf, m.Internal.RecipientSubIdentity)
	buf = appendString(buf, m.Internal.InboxName)
	buf = appendUint64(buf, uint64(m.Internal.EncryptionMode))
	buf = appendString(buf, m.External.SenderNode)
	buf = appendString(buf, m.External.RecipientNode)
	buf = appendUint64(buf, uint64(m.External.ScheduledTime.UnixNano()))
	if zeroSignature {
		var zero [crypto.SignatureSize]byte
		buf = appendBytes(buf, zero[:])
	} else {
		buf = appendBytes(buf, m.External.Signature[:])
	}
	return buf
}

// SignDigest returns the SHA-256 digest that must be Ed25519-signed: the
// canonical encoding with the signature field zeroed, then hashed. This is
// the same canonicalization rule on both sides.
func (m *Message) SignDigest() [32]byte {
	full, _ := crypto.FileHash(m.encode(true))
	var digest [32]byte
	copy(digest[:], mustDecodeHex(full))
	return digest
}

// ContentHash returns the hex BLAKE3-derived identity hash of the message
// as it will be stored, used as the AllMessages key and the pagination
// index's hash component.
func (m *Message) ContentHash() string {
	sum := blake3Sum(m.encode(false))
	return sum
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendBytes(buf []byte, b []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	buf = append(buf, length[:]...)
	buf = append(buf, b...)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// decodeMessage is the inverse of (*Message).encode(false): it parses the
// canonical on-disk representation back into a Message.
func decodeMessage(buf []byte) (*Message, error) {
	r := &byteReader{buf: buf}

	schemaTag, err := r.readString()
	if err != nil {
		return nil, err
	}
	body, err := r.readBytes()
	if err != nil {
		return nil, err
	}
	senderSub, err := r.readString()
	if err != nil {
		return nil, err
	}
	recipientSub, err := r.readString()
	if err != nil {
		return nil, err
	}
	inboxName, err := r.readString()
	if err != nil {
		return nil, err
	}
	encMode, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	senderNode, err := r.readString()
	if err != nil {
		return nil, err
	}
	recipientNode, err := r.readString()
	if err != nil {
		return nil, err
	}
	scheduledNanos, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	sigBytes, err := r.readBytes()
	if err != nil {
		return nil, err
	}
	if len(sigBytes) != crypto.SignatureSize {
		return nil, fmt.Errorf("decodeMessage: unexpected signature length %d", len(sigBytes))
	}

	msg := &Message{
		SchemaTag: schemaTag,
		Body:      body,
		Internal: InternalMetadata{
			SenderSubIdentity:    senderSub,
			RecipientSubIdentity: recipientSub,
			InboxName:            inboxName,
			EncryptionMode:       EncryptionMode(encMode),
		},
		External: ExternalMetadata{
			SenderNode:    senderNode,
			RecipientNode: recipientNode,
			ScheduledTime: time.Unix(0, int64(scheduledNanos)).UTC(),
		},
	}
	copy(msg.External.Signature[:], sigBytes)
	return msg, nil
}

// byteReader is a minimal cursor over the length-prefixed encoding used by
// (*Message).encode.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) readBytes() ([]byte, error) {
	if len(r.buf)-r.pos < 4 {
		return nil, fmt.Errorf("decodeMessage: truncated length prefix")
	}
	length := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	if uint32(len(r.buf)-r.pos) < length {
		return nil, fmt.Errorf("decodeMessage: truncated field")
	}
	out := r.buf[r.pos : r.pos+int(length)]
	r.pos += int(length)
	return out, nil
}

func (r *byteReader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) readUint64() (uint64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, fmt.Errorf("decodeMessage: truncated uint64")
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}
