// Package crypto implements the cryptographic primitives shared across the
// node: NaCl-based authenticated encryption, Ed25519 message signatures,
// content and identity hashing, and secure key handling.
//
// # Core Types
//
//   - [KeyPair]: NaCl crypto_box key pair (Curve25519) for encryption/decryption
//   - [Nonce]: 24-byte random nonce for encryption operations
//   - [Signature]: Ed25519 signature bytes
//
// # Encryption and Decryption
//
// The package supports both authenticated public-key encryption (NaCl box) and
// symmetric encryption (NaCl secretbox):
//
//	nonce, _ := crypto.GenerateNonce()
//	ciphertext, _ := crypto.Encrypt(plaintext, nonce, recipientPK, senderSK)
//	plaintext, _ := crypto.Decrypt(ciphertext, nonce, senderPK, recipientSK)
//
// # Digital Signatures
//
// Ed25519 signatures authenticate messages between nodes:
//
//	signature, _ := crypto.Sign(digest, privateKey)
//	valid, _ := crypto.Verify(digest, signature, publicKey)
//
// # Key Generation and Encoding
//
//	keyPair, err := crypto.GenerateKeyPair()
//	defer crypto.WipeKeyPair(keyPair)
//
//	encoded := crypto.EncodeBase58Key(keyPair.Private[:])
//	raw, err := crypto.DecodeBase58Key(encoded)
//
// # Content and Identity Hashing
//
// InboxHash and SubscriptionID derive the BLAKE3-based identifiers used by
// the message store and subscription controller. FileHash derives the
// SHA-256 content hash and short hash used by the upload manager's checksum
// sidecars.
//
// # Secure Memory Handling
//
// Sensitive data should be securely wiped after use:
//
//	defer crypto.SecureWipe(sensitiveData)
//	defer crypto.WipeKeyPair(keyPair)
//
// The [SecureWipe] function uses constant-time XOR operations that cannot be
// optimized away by the compiler, ensuring memory is actually zeroed.
//
// # Deterministic Testing
//
// Time-dependent callers accept a [TimeProvider] so tests can inject a fixed
// clock instead of depending on wall time.
//
// # Thread Safety
//
// All exported functions in this package are pure and safe for concurrent
// use; the package holds no shared mutable state.
package crypto
