package payments

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/gluenet/agentmesh"
)

// NewNonce generates a random 32-byte EIP-3009 authorization nonce.
//
// Uniqueness is enforced per (from, nonce) pair by the token contract, so
// collisions only matter within a single payer's history; 32 random bytes
// make them negligible.
func NewNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, agentmesh.Wrap(agentmesh.KindInternal, "failed to generate nonce", err)
	}
	return nonce, nil
}

// ValidityWindow returns the (validAfter, validBefore) pair for an
// authorization that is usable immediately and expires after d.
//
// validAfter is zero rather than now so that clock skew between the payer
// and the verifying node can never make a fresh authorization not-yet-valid.
func ValidityWindow(d time.Duration) (validAfter, validBefore *big.Int) {
	return big.NewInt(0), big.NewInt(time.Now().Add(d).Unix())
}
