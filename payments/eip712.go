package payments

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/gluenet/agentmesh"
)

// Domain is the EIP-712 signing domain of an EIP-3009 token contract.
// The verifying contract is always the token address itself.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// transferTypes is the EIP-712 type table for transferWithAuthorization.
// Field order matters: it is part of the type hash.
var transferTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// DomainFromRequirement builds the signing domain for a payment requirement.
// Token name and version travel in the requirement's extra block; chainID is
// supplied by the caller because the requirement's network field is a chain
// name, not a chain id.
func DomainFromRequirement(req agentmesh.PaymentRequirement, chainID *big.Int) (Domain, error) {
	name := req.ExtraString("name")
	version := req.ExtraString("version")
	if name == "" || version == "" {
		return Domain{}, agentmesh.E(agentmesh.KindInvalidArgument, "requirement extra must carry token name and version")
	}
	if !common.IsHexAddress(req.Asset) {
		return Domain{}, agentmesh.Ef(agentmesh.KindInvalidArgument, "invalid asset address: %s", req.Asset)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return Domain{}, agentmesh.E(agentmesh.KindInvalidArgument, "chain id must be positive")
	}
	return Domain{
		Name:              name,
		Version:           version,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: common.HexToAddress(req.Asset),
	}, nil
}

// DigestTransferAuthorization computes the EIP-712 digest of a
// TransferWithAuthorization message.
//
// The digest is keccak256("\x19\x01" + domainSeparator + structHash), the
// exact preimage the token contract reconstructs in transferWithAuthorization.
func DigestTransferAuthorization(auth agentmesh.TransferAuthorization, domain Domain) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "invalid authorization value: %s", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "invalid validAfter: %s", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "invalid validBefore: %s", auth.ValidBefore)
	}
	nonce, err := auth.NonceBytes()
	if err != nil {
		return nil, err
	}

	typedData := apitypes.TypedData{
		Types:       transferTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       value,
			"validAfter":  validAfter,
			"validBefore": validBefore,
			"nonce":       nonce[:],
		},
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to hash struct", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to hash domain", err)
	}

	raw := []byte{0x19, 0x01}
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}
