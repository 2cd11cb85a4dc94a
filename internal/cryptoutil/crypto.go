// Package cryptoutil implements ECDSA sign/recover over secp256k1 and
// address derivation from a recovered public key.
//
// Builds on github.com/decred/dcrd/dcrec/secp256k1/v4, already present
// indirectly via libp2p's noise handshake and promoted to a direct
// dependency here, driven through its ecdsa subpackage's
// recoverable-signature API — the idiomatic Go way to get
// Bitcoin/Ethereum-style (v, r, s) signatures without hand-rolling
// curve arithmetic.
package cryptoutil

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/nodeforge/posnode/internal/types"
)

// PrivateKey is a node or miner signing key.
type PrivateKey = secp256k1.PrivateKey

// PublicKey is a recovered signer identity.
type PublicKey = secp256k1.PublicKey

// GeneratePrivateKey creates a new random signing key.
func GeneratePrivateKey() (*PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// PrivateKeyFromBytes parses a 32-byte scalar into a signing key, the
// shape the CLI entrypoint accepts on the command line.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

// Signature is the (v, r, s) triple every Tx and Vote carries.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// Sign produces a recoverable signature over a 32-byte message hash.
func Sign(priv *PrivateKey, hash [32]byte) Signature {
	compact := ecdsa.SignCompact(priv, hash[:], true)
	var sig Signature
	sig.V = compact[0]
	copy(sig.R[:], compact[1:33])
	copy(sig.S[:], compact[33:65])
	return sig
}

// Recover recovers the public key that produced sig over hash.
func Recover(hash [32]byte, sig Signature) (*PublicKey, error) {
	compact := make([]byte, 65)
	compact[0] = sig.V
	copy(compact[1:33], sig.R[:])
	copy(compact[33:65], sig.S[:])

	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	return pub, nil
}

// Address derives the 20-byte account address: the low-order 20 bytes
// of the keccak-family hash of the uncompressed public key, excluding
// its 0x04 prefix byte.
func Address(pub *PublicKey) types.Address {
	uncompressed := pub.SerializeUncompressed()
	digest := sha3.Sum256(uncompressed[1:])
	var addr types.Address
	copy(addr[:], digest[len(digest)-len(addr):])
	return addr
}

// RecoverAddress is the common call site: recover the signer's public
// key over hash and derive its address in one step.
func RecoverAddress(hash [32]byte, sig Signature) (types.Address, error) {
	pub, err := Recover(hash, sig)
	if err != nil {
		return types.Address{}, err
	}
	return Address(pub), nil
}
