package crypto

import (
	"crypto/ed25519"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature, used over the relay
// handshake's nonce and carried in a stored message's external metadata.
type Signature [SignatureSize]byte

// Sign produces an Ed25519 signature over payload using privateKey, the
// relay client side of the handshake's challenge/response.
func Sign(payload []byte, privateKey [32]byte) (Signature, error) {
	if len(payload) == 0 {
		return Signature{}, errors.New("empty payload")
	}

	// Convert the 32-byte private key to the format expected by ed25519
	// Ed25519 private keys are 64 bytes (32 bytes seed + 32 bytes public key)
	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])

	// Sign the payload
	signatureBytes := ed25519.Sign(edPrivateKey, payload)

	var signature Signature
	copy(signature[:], signatureBytes)

	return signature, nil
}

// Verify checks signature against payload and publicKey, the relay
// server side of the handshake that gates registration in the clients
// map.
func Verify(payload []byte, signature Signature, publicKey [32]byte) (bool, error) {
	if len(payload) == 0 {
		return false, errors.New("empty payload")
	}

	// Convert the 32-byte public key to the format expected by ed25519
	var edPublicKey [ed25519.PublicKeySize]byte
	copy(edPublicKey[:], publicKey[:])

	// Verify the signature
	return ed25519.Verify(edPublicKey[:], payload, signature[:]), nil
}
