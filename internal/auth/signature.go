// ABOUTME: Wallet signature verification over the timestamp challenge
// ABOUTME: Decodes base-58 ed25519 keys and detached signatures, never panicking on bad input

package auth

import (
	"crypto/ed25519"
	"strconv"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/sign"
)

const (
	// ChallengePrefix is prepended to the caller's timestamp to form the signed message.
	ChallengePrefix = "romulus:"

	publicKeySize = 32
	signatureSize = sign.Overhead
)

// Challenge returns the message a wallet must sign for the given timestamp value.
func Challenge(timestamp string) string {
	return ChallengePrefix + timestamp
}

// VerifySignature reports whether signature is a valid detached ed25519
// signature of message by publicKey. Key and signature are base-58 encoded.
// Any malformed input yields false.
func VerifySignature(publicKey, message, signature string) bool {
	keyBytes, err := base58.Decode(publicKey)
	if err != nil || len(keyBytes) != publicKeySize {
		return false
	}
	sigBytes, err := base58.Decode(signature)
	if err != nil || len(sigBytes) != signatureSize {
		return false
	}

	var key [publicKeySize]byte
	copy(key[:], keyBytes)

	signed := make([]byte, 0, signatureSize+len(message))
	signed = append(signed, sigBytes...)
	signed = append(signed, message...)

	_, ok := sign.Open(nil, signed, &key)
	return ok
}

// SignChallenge produces credentials for the wallet owning priv, signed at
// timestampMillis. Used by the CLI and by tests.
func SignChallenge(priv ed25519.PrivateKey, timestampMillis int64) Credentials {
	ts := strconv.FormatInt(timestampMillis, 10)

	var secret [64]byte
	copy(secret[:], priv)
	signed := sign.Sign(nil, []byte(Challenge(ts)), &secret)

	return Credentials{
		Wallet:    base58.Encode(priv.Public().(ed25519.PublicKey)),
		Signature: base58.Encode(signed[:signatureSize]),
		Timestamp: ts,
	}
}

// DecodeSecretKey parses a base-58 secret key in either the 64-byte
// (seed||public) wallet export form or the bare 32-byte seed form.
func DecodeSecretKey(s string) (ed25519.PrivateKey, bool) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, false
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize]), true
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), true
	default:
		return nil, false
	}
}
