package store

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// blake3Sum returns the hex BLAKE3-256 digest of data, used for message
// content addressing.
func blake3Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// mustDecodeHex decodes a hex string known to be well-formed (produced by
// our own hex.EncodeToString calls); it panics only on a programming
// error, never on untrusted input.
func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("store: invalid hex produced internally: " + err.Error())
	}
	return b
}
