package payments

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gluenet/agentmesh"
)

// DefaultValidity is the validity window applied when SignParams leaves
// ValidBefore unset.
const DefaultValidity = time.Hour

// Signer produces EIP-712 signed transfer authorizations for a single
// private key. A Signer is safe for concurrent use.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps an ECDSA private key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "private key is nil")
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// NewSignerFromHex parses a hex-encoded private key, with or without the
// "0x" prefix.
func NewSignerFromHex(privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInvalidArgument, "invalid private key", err)
	}
	return NewSigner(key)
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignParams describes one transfer authorization to sign. ValidAfter,
// ValidBefore and Nonce are optional; SignTransfer fills defaults.
type SignParams struct {
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       *[32]byte
	Domain      Domain
}

// SignTransfer builds and signs a TransferWithAuthorization message.
//
// Defaults: validAfter = 0 (valid immediately), validBefore = now +
// DefaultValidity, nonce = fresh random 32 bytes. The returned authorization
// carries the signature split into v, r, s with v already adjusted to 27/28.
func (s *Signer) SignTransfer(params SignParams) (*agentmesh.TransferAuthorization, error) {
	if params.Value == nil || params.Value.Sign() <= 0 {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "value must be positive")
	}

	validAfter := params.ValidAfter
	if validAfter == nil {
		validAfter = big.NewInt(0)
	}
	validBefore := params.ValidBefore
	if validBefore == nil {
		validBefore = big.NewInt(time.Now().Add(DefaultValidity).Unix())
	}
	if validAfter.Sign() < 0 {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "validAfter must not be negative")
	}
	if validAfter.Cmp(validBefore) >= 0 {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "validAfter must precede validBefore")
	}

	var nonce [32]byte
	if params.Nonce != nil {
		nonce = *params.Nonce
	} else {
		fresh, err := NewNonce()
		if err != nil {
			return nil, err
		}
		nonce = fresh
	}

	auth := &agentmesh.TransferAuthorization{
		From:        s.address.Hex(),
		To:          params.To.Hex(),
		Value:       params.Value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       hexutil.Encode(nonce[:]),
	}

	digest, err := DigestTransferAuthorization(*auth, params.Domain)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to sign digest", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 -> 27/28)
	signature[64] += 27

	auth.V = signature[64]
	auth.R = hexutil.Encode(signature[:32])
	auth.S = hexutil.Encode(signature[32:64])
	return auth, nil
}

// VerifyTransfer recomputes the EIP-712 digest of the authorization, recovers
// the signing address from v, r, s and compares it to the from field.
// A malformed signature returns false with a nil error; only digest
// construction failures surface as errors.
func VerifyTransfer(auth agentmesh.TransferAuthorization, domain Domain) (bool, error) {
	if err := agentmesh.ValidateAuthorization(auth); err != nil {
		return false, err
	}
	digest, err := DigestTransferAuthorization(auth, domain)
	if err != nil {
		return false, err
	}
	signature, err := auth.SignatureBytes()
	if err != nil {
		return false, err
	}

	// crypto.SigToPub expects the recovery id (0/1) in the last byte.
	if signature[64] >= 27 {
		signature[64] -= 27
	}
	pubKey, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return false, nil
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	expected := common.HexToAddress(auth.From)
	return bytes.Equal(recovered.Bytes(), expected.Bytes()), nil
}
