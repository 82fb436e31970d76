package cryptoutils

import (
	"crypto/ed25519"
	"encoding/base64"
)

// VerifySignature checks a detached Ed25519 signature over message.
//
// A public key of the wrong length, an empty signature or any other malformed
// input is treated as verification failure, never as a panic. The function has
// no side effects and is safe for concurrent use.
func VerifySignature(signature, message, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// VerifyOwnership checks a base64-encoded detached signature over the literal
// identifier string (a share code or a backup key) against a base64-encoded
// public key. This is the sole authorization mechanism for mutating a record:
// whoever controls the private key matching the record's stored public key
// owns the record.
//
// Malformed base64 in either argument resolves to false.
func VerifyOwnership(signatureB64, identifier, publicKeyB64 string) bool {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}

	publicKey, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return false
	}

	return VerifySignature(signature, []byte(identifier), publicKey)
}
