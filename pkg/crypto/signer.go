// Package crypto provides proof signing and signer recovery. Signatures are
// recoverable secp256k1 ECDSA over a keccak-256 digest, encoded as
// (r, s, v, signer address) so a verifier holding only the message and the
// signature can recover and check the signer.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Signature is a recoverable signature over a canonical message.
type Signature struct {
	R             string `json:"r"`
	S             string `json:"s"`
	V             uint8  `json:"v"`
	SignerAddress string `json:"signer_address"`
}

// Signer signs canonical byte messages and exposes its on-ledger address.
type Signer interface {
	Sign(message []byte) (*Signature, error)
	Address() string
}

// Secp256k1Signer signs with a secp256k1 private key.
type Secp256k1Signer struct {
	key     *secp256k1.PrivateKey
	address string
}

// NewSignerFromHex builds a signer from a hex-encoded private key. A "0x"
// prefix is accepted.
func NewSignerFromHex(hexKey string) (*Secp256k1Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("crypto: private key is zero")
	}
	return &Secp256k1Signer{key: key, address: pubKeyAddress(key.PubKey())}, nil
}

// GenerateSigner creates a signer with a fresh random key. Used by tests and
// ephemeral deployments.
func GenerateSigner() (*Secp256k1Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &Secp256k1Signer{key: key, address: pubKeyAddress(key.PubKey())}, nil
}

// Sign produces a recoverable signature over keccak256(message).
func (s *Secp256k1Signer) Sign(message []byte) (*Signature, error) {
	digest := Keccak256(message)
	// Compact form: header byte (27 + recovery id), then r, then s.
	compact := secpecdsa.SignCompact(s.key, digest, false)
	return &Signature{
		R:             "0x" + hex.EncodeToString(compact[1:33]),
		S:             "0x" + hex.EncodeToString(compact[33:65]),
		V:             compact[0],
		SignerAddress: s.address,
	}, nil
}

// Address returns the signer's address derived from its public key.
func (s *Secp256k1Signer) Address() string { return s.address }

// RecoverSigner recovers the address that produced sig over message.
func RecoverSigner(message []byte, sig *Signature) (string, error) {
	r, err := hex.DecodeString(strings.TrimPrefix(sig.R, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: decode r: %w", err)
	}
	sVal, err := hex.DecodeString(strings.TrimPrefix(sig.S, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: decode s: %w", err)
	}
	if len(r) != 32 || len(sVal) != 32 {
		return "", fmt.Errorf("crypto: r and s must be 32 bytes")
	}

	compact := make([]byte, 65)
	compact[0] = sig.V
	copy(compact[1:33], r)
	copy(compact[33:65], sVal)

	pub, _, err := secpecdsa.RecoverCompact(compact, Keccak256(message))
	if err != nil {
		return "", fmt.Errorf("crypto: recover: %w", err)
	}
	return pubKeyAddress(pub), nil
}

// VerifySignature recovers the signer and compares it to the signature's
// embedded address, case-insensitively.
func VerifySignature(message []byte, sig *Signature) error {
	recovered, err := RecoverSigner(message, sig)
	if err != nil {
		return err
	}
	if !AddressesEqual(recovered, sig.SignerAddress) {
		return fmt.Errorf("crypto: recovered signer %s does not match %s", recovered, sig.SignerAddress)
	}
	return nil
}

// AddressesEqual compares two addresses ignoring case.
func AddressesEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}

// Keccak256 returns the legacy keccak-256 digest used for address
// derivation and message hashing.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// pubKeyAddress derives the address: last 20 bytes of
// keccak256(uncompressed pubkey without the 0x04 prefix).
func pubKeyAddress(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	digest := Keccak256(raw[1:])
	return "0x" + hex.EncodeToString(digest[12:])
}
