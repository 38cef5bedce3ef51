package x402

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gluenet/agentmesh"
)

// DefaultMaxTimeoutSeconds is the validity-window ceiling a seller declares
// when the price leaves it unset.
const DefaultMaxTimeoutSeconds = 3600

// PriceDecl is a seller's price for one endpoint, in smallest token units.
// TokenName and TokenVersion are the token's EIP-712 domain values; they
// travel to buyers in the requirement's extra block.
type PriceDecl struct {
	Amount            *big.Int
	Asset             string
	PayTo             string
	Network           string
	MaxTimeoutSeconds uint64
	TokenName         string
	TokenVersion      string
}

// Validate checks a price declaration at middleware construction time.
func (p PriceDecl) Validate() error {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return agentmesh.E(agentmesh.KindInvalidArgument, "price amount must be positive")
	}
	if !common.IsHexAddress(p.Asset) {
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "invalid price asset %q", p.Asset)
	}
	if !common.IsHexAddress(p.PayTo) {
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "invalid price payTo %q", p.PayTo)
	}
	if p.Network == "" {
		return agentmesh.E(agentmesh.KindInvalidArgument, "price network is required")
	}
	if p.TokenName == "" || p.TokenVersion == "" {
		return agentmesh.E(agentmesh.KindInvalidArgument, "price needs the token EIP-712 name and version")
	}
	return nil
}

// Requirement renders the declaration as the wire-level PaymentRequirement.
func (p PriceDecl) Requirement() agentmesh.PaymentRequirement {
	maxTimeout := p.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = DefaultMaxTimeoutSeconds
	}
	return agentmesh.PaymentRequirement{
		Scheme:            agentmesh.SchemeExact,
		Network:           p.Network,
		Asset:             common.HexToAddress(p.Asset).Hex(),
		PayTo:             common.HexToAddress(p.PayTo).Hex(),
		MaxAmount:         p.Amount.String(),
		MaxTimeoutSeconds: maxTimeout,
		Extra:             map[string]any{"name": p.TokenName, "version": p.TokenVersion},
	}
}
