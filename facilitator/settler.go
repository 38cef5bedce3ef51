// Package facilitator implements the stateless settlement service: it
// verifies signed transfer authorizations against a seller's payment
// requirements and relays valid ones onto the ledger from its own hot
// wallet. All durable state lives on-chain.
package facilitator

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/payments"
)

// Verify failure reasons. These are stable strings: clients branch on them.
const (
	ReasonUnsupportedKind   = "unsupported-kind"
	ReasonRecipientMismatch = "recipient-mismatch"
	ReasonAmountExceedsMax  = "amount-exceeds-maximum"
	ReasonWindowTooLong     = "window-too-long"
	ReasonExpired           = "expired"
	ReasonNotYetValid       = "not-yet-valid"
	ReasonInvalidSignature  = "invalid-signature"
	ReasonInsufficientFunds = "insufficient-balance"
	ReasonNonceUsed         = "nonce-used"
	ReasonReverted          = "transaction-reverted"
	ReasonRpcUnavailable    = "rpc-unavailable"
)

// Settler verifies and settles payments for one supported kind. Predicate
// failures travel in the response with a reason; errors are reserved for
// infrastructure faults (an unreachable node).
type Settler interface {
	Kind() agentmesh.SupportedKind
	Verify(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.VerifyResponse, error)
	Settle(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.SettleResponse, error)
}

// TokenReader is the slice of the ledger client the settler needs for its
// free reads.
type TokenReader interface {
	TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	AuthorizationUsed(ctx context.Context, from common.Address, nonce [32]byte) (bool, error)
}

// Wallet submits transferWithAuthorization transactions and waits for one
// confirmation. The facilitator's hot wallet is the only implementation in
// production.
type Wallet interface {
	Address() common.Address
	SubmitTransfer(ctx context.Context, token common.Address, auth agentmesh.TransferAuthorization) (common.Hash, error)
}

// KindConfig describes one settleable token: its kind triple plus the
// EIP-712 domain metadata needed to check signatures.
type KindConfig struct {
	Symbol   string `yaml:"symbol"`
	Scheme   string `yaml:"scheme"`
	Network  string `yaml:"network"`
	Asset    string `yaml:"asset"`
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Decimals uint8  `yaml:"decimals"`
}

// Validate checks a kind entry from the config file.
func (k KindConfig) Validate() error {
	if k.Symbol == "" {
		return agentmesh.E(agentmesh.KindInvalidArgument, "kind symbol is required")
	}
	if k.Scheme == "" || k.Network == "" {
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "kind %s needs scheme and network", k.Symbol)
	}
	if !common.IsHexAddress(k.Asset) {
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "kind %s has invalid asset address %q", k.Symbol, k.Asset)
	}
	if k.Name == "" || k.Version == "" {
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "kind %s needs the token EIP-712 name and version", k.Symbol)
	}
	return nil
}

// EIP3009Settler settles exact EVM payments through the token's
// transferWithAuthorization entry point.
type EIP3009Settler struct {
	cfg     KindConfig
	asset   common.Address
	chainID *big.Int
	token   TokenReader
	wallet  Wallet

	// now is swapped out by tests that pin the clock.
	now func() time.Time
}

// NewEIP3009Settler builds the settler for one configured kind.
func NewEIP3009Settler(cfg KindConfig, chainID *big.Int, token TokenReader, wallet Wallet) (*EIP3009Settler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "chain id must be positive")
	}
	if token == nil || wallet == nil {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "token reader and wallet are required")
	}
	return &EIP3009Settler{
		cfg:     cfg,
		asset:   common.HexToAddress(cfg.Asset),
		chainID: new(big.Int).Set(chainID),
		token:   token,
		wallet:  wallet,
		now:     time.Now,
	}, nil
}

// Kind returns the supported-kind triple this settler serves.
func (s *EIP3009Settler) Kind() agentmesh.SupportedKind {
	return agentmesh.SupportedKind{
		Kind:    agentmesh.KindFor(s.cfg.Symbol),
		Scheme:  s.cfg.Scheme,
		Network: s.cfg.Network,
		Asset:   s.asset.Hex(),
	}
}

func (s *EIP3009Settler) domain() payments.Domain {
	return payments.Domain{
		Name:              s.cfg.Name,
		Version:           s.cfg.Version,
		ChainID:           s.chainID,
		VerifyingContract: s.asset,
	}
}

func invalid(reason string) agentmesh.VerifyResponse {
	return agentmesh.VerifyResponse{IsValid: false, Reason: reason}
}

// Verify runs the predicate chain in protocol order: kind match, amount
// ceiling, validity window, signature, payer balance, nonce freshness.
// The first failing predicate names the reason; later ones are not checked.
func (s *EIP3009Settler) Verify(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.VerifyResponse, error) {
	if req.Scheme != s.cfg.Scheme || req.Network != s.cfg.Network || !agentmesh.SameAddress(req.Asset, s.cfg.Asset) {
		return invalid(ReasonUnsupportedKind), nil
	}
	if err := agentmesh.ValidateAuthorization(auth); err != nil {
		return invalid("invalid-payload: " + err.Error()), nil
	}
	if !agentmesh.SameAddress(auth.To, req.PayTo) {
		return invalid(ReasonRecipientMismatch), nil
	}

	value, err := auth.ValueBig()
	if err != nil {
		return invalid("invalid-payload: " + err.Error()), nil
	}
	maxAmount, err := req.MaxAmountBig()
	if err != nil {
		return invalid("invalid-payload: " + err.Error()), nil
	}
	if value.Cmp(maxAmount) > 0 {
		return invalid(ReasonAmountExceedsMax), nil
	}

	validAfter, validBefore, err := auth.Window()
	if err != nil {
		return invalid("invalid-payload: " + err.Error()), nil
	}
	now := big.NewInt(s.now().Unix())
	if req.MaxTimeoutSeconds > 0 {
		window := new(big.Int).Sub(validBefore, now)
		if window.Cmp(new(big.Int).SetUint64(req.MaxTimeoutSeconds)) > 0 {
			return invalid(ReasonWindowTooLong), nil
		}
	}
	if now.Cmp(validBefore) >= 0 {
		return invalid(ReasonExpired), nil
	}
	if now.Cmp(validAfter) < 0 {
		return invalid(ReasonNotYetValid), nil
	}

	ok, err := payments.VerifyTransfer(auth, s.domain())
	if err != nil {
		return invalid("invalid-payload: " + err.Error()), nil
	}
	if !ok {
		return invalid(ReasonInvalidSignature), nil
	}

	balance, err := s.token.TokenBalance(ctx, common.HexToAddress(auth.From))
	if err != nil {
		return agentmesh.VerifyResponse{}, err
	}
	if balance.Cmp(value) < 0 {
		return invalid(ReasonInsufficientFunds), nil
	}

	nonce, err := auth.NonceBytes()
	if err != nil {
		return invalid("invalid-payload: " + err.Error()), nil
	}
	used, err := s.token.AuthorizationUsed(ctx, common.HexToAddress(auth.From), nonce)
	if err != nil {
		return agentmesh.VerifyResponse{}, err
	}
	if used {
		return invalid(ReasonNonceUsed), nil
	}

	return agentmesh.VerifyResponse{IsValid: true}, nil
}

// Settle re-verifies the authorization and then submits it from the hot
// wallet, waiting for exactly one confirmation. A nonce that was consumed
// between verify and settle reports "nonce-used", never a double spend.
func (s *EIP3009Settler) Settle(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.SettleResponse, error) {
	verify, err := s.Verify(ctx, auth, req)
	if err != nil {
		return agentmesh.SettleResponse{}, err
	}
	if !verify.IsValid {
		return agentmesh.SettleResponse{Success: false, Reason: verify.Reason}, nil
	}

	txHash, err := s.wallet.SubmitTransfer(ctx, s.asset, auth)
	if err != nil {
		if agentmesh.IsKind(err, agentmesh.KindSettlementFailed) {
			// The usual revert cause is a nonce consumed by a racing settle;
			// report it as such when the chain confirms the consumption.
			if nonce, nerr := auth.NonceBytes(); nerr == nil {
				if used, uerr := s.token.AuthorizationUsed(ctx, common.HexToAddress(auth.From), nonce); uerr == nil && used {
					return agentmesh.SettleResponse{Success: false, Reason: ReasonNonceUsed, Transaction: txHash.Hex()}, nil
				}
			}
			return agentmesh.SettleResponse{Success: false, Reason: ReasonReverted, Transaction: txHash.Hex()}, nil
		}
		return agentmesh.SettleResponse{}, err
	}

	return agentmesh.SettleResponse{Success: true, Transaction: txHash.Hex()}, nil
}
