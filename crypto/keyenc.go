package crypto

import (
	"errors"

	"github.com/mr-tron/base58"
)

// EncodeBase58Key encodes raw key bytes (identity or encryption keys) as a
// base58 string, the format used by IDENTITY_SECRET_KEY and
// ENCRYPTION_SECRET_KEY environment values and .secret files.
func EncodeBase58Key(key []byte) string {
	return base58.Encode(key)
}

// DecodeBase58Key decodes a base58-encoded key back into raw bytes.
func DecodeBase58Key(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("empty base58 key")
	}
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}
