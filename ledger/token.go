package ledger

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
)

// TokenMetadata describes the payment token, read off the contract itself.
// Name and Version feed the EIP-712 signing domain and travel in the extra
// block of every PaymentRequirement for this token.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Version  string
	Decimals uint8
}

// Kind returns the facilitator kind string for this token.
func (m TokenMetadata) Kind() string {
	return agentmesh.KindFor(m.Symbol)
}

// Extra returns the EIP-712 domain metadata in PaymentRequirement form.
func (m TokenMetadata) Extra() map[string]any {
	return map[string]any{"name": m.Name, "version": m.Version}
}

// TokenMetadata reads name, symbol, version and decimals from the token
// contract, caching the result for the life of the client. The values are
// immutable on-chain.
func (c *Client) TokenMetadata(ctx context.Context) (TokenMetadata, error) {
	c.mu.Lock()
	if c.metadata != nil {
		md := *c.metadata
		c.mu.Unlock()
		return md, nil
	}
	c.mu.Unlock()

	name, err := c.tokenString(ctx, "name")
	if err != nil {
		return TokenMetadata{}, err
	}
	symbol, err := c.tokenString(ctx, "symbol")
	if err != nil {
		return TokenMetadata{}, err
	}
	version, err := c.tokenString(ctx, "version")
	if err != nil {
		return TokenMetadata{}, err
	}

	var out []interface{}
	err = withRetry(ctx, c.log, "decimals", func() error {
		out = nil
		return c.token.Call(&bind.CallOpts{Context: ctx}, &out, "decimals")
	})
	if err != nil {
		return TokenMetadata{}, rpcError("decimals", err)
	}
	decimals, ok := out[0].(uint8)
	if len(out) != 1 || !ok {
		return TokenMetadata{}, agentmesh.E(agentmesh.KindInternal, "unexpected decimals output")
	}

	md := TokenMetadata{Name: name, Symbol: symbol, Version: version, Decimals: decimals}
	c.mu.Lock()
	c.metadata = &md
	c.mu.Unlock()
	return md, nil
}

// TokenView reads one EIP-3009 token without the registry wiring a full
// Client carries. The facilitator binds one per supported kind.
type TokenView struct {
	token *bind.BoundContract
	log   *zap.Logger
}

// NewTokenView binds a token contract for read-only use.
func NewTokenView(backend Backend, asset common.Address, log *zap.Logger) (*TokenView, error) {
	parsed, err := abi.JSON(strings.NewReader(string(TokenABI)))
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to parse token ABI", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenView{
		token: bind.NewBoundContract(asset, parsed, backend, backend, backend),
		log:   log.Named("token"),
	}, nil
}

// TokenBalance reads an address's token balance at the latest head.
func (v *TokenView) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []interface{}
	err := withRetry(ctx, v.log, "balanceOf", func() error {
		out = nil
		return v.token.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", addr)
	})
	if err != nil {
		return nil, rpcError("balanceOf", err)
	}
	if len(out) != 1 {
		return nil, agentmesh.Ef(agentmesh.KindInternal, "unexpected balanceOf outputs: %d", len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, agentmesh.E(agentmesh.KindInternal, "unexpected balanceOf output type")
	}
	return balance, nil
}

// AuthorizationUsed reports whether the token has consumed the
// (authorizer, nonce) pair.
func (v *TokenView) AuthorizationUsed(ctx context.Context, from common.Address, nonce [32]byte) (bool, error) {
	var out []interface{}
	err := withRetry(ctx, v.log, "authorizationState", func() error {
		out = nil
		return v.token.Call(&bind.CallOpts{Context: ctx}, &out, "authorizationState", from, nonce)
	})
	if err != nil {
		return false, rpcError("authorizationState", err)
	}
	if len(out) != 1 {
		return false, agentmesh.Ef(agentmesh.KindInternal, "unexpected authorizationState outputs: %d", len(out))
	}
	used, ok := out[0].(bool)
	if !ok {
		return false, agentmesh.E(agentmesh.KindInternal, "unexpected authorizationState output type")
	}
	return used, nil
}

// TokenBalance reads an address's token balance at the latest head.
func (c *Client) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []interface{}
	err := withRetry(ctx, c.log, "balanceOf", func() error {
		out = nil
		return c.token.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", addr)
	})
	if err != nil {
		return nil, rpcError("balanceOf", err)
	}
	if len(out) != 1 {
		return nil, agentmesh.Ef(agentmesh.KindInternal, "unexpected balanceOf outputs: %d", len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, agentmesh.E(agentmesh.KindInternal, "unexpected balanceOf output type")
	}
	return balance, nil
}

// AuthorizationUsed reports whether the token contract has already consumed
// the (authorizer, nonce) pair.
func (c *Client) AuthorizationUsed(ctx context.Context, from common.Address, nonce [32]byte) (bool, error) {
	var out []interface{}
	err := withRetry(ctx, c.log, "authorizationState", func() error {
		out = nil
		return c.token.Call(&bind.CallOpts{Context: ctx}, &out, "authorizationState", from, nonce)
	})
	if err != nil {
		return false, rpcError("authorizationState", err)
	}
	if len(out) != 1 {
		return false, agentmesh.Ef(agentmesh.KindInternal, "unexpected authorizationState outputs: %d", len(out))
	}
	used, ok := out[0].(bool)
	if !ok {
		return false, agentmesh.E(agentmesh.KindInternal, "unexpected authorizationState output type")
	}
	return used, nil
}

func (c *Client) tokenString(ctx context.Context, method string) (string, error) {
	var out []interface{}
	err := withRetry(ctx, c.log, method, func() error {
		out = nil
		return c.token.Call(&bind.CallOpts{Context: ctx}, &out, method)
	})
	if err != nil {
		return "", rpcError(method, err)
	}
	if len(out) != 1 {
		return "", agentmesh.Ef(agentmesh.KindInternal, "unexpected %s outputs: %d", method, len(out))
	}
	s, ok := out[0].(string)
	if !ok {
		return "", agentmesh.Ef(agentmesh.KindInternal, "unexpected %s output type", method)
	}
	return s, nil
}
