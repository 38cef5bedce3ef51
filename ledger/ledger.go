// Package ledger is a typed facade over the on-chain registries that back
// the agent economy: the identity registry (agent records), the reputation
// registry (pairwise ratings), the validation registry (data validation
// requests and responses) and the EIP-3009 payment token.
//
// Reads are free and retried on transient transport failures. Writes build a
// transaction, sign it with the agent's key, submit and wait for one
// confirmation; a revert is surfaced to the caller and never retried.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
)

// MaxRating is the upper bound of the rating and validation score scale.
const MaxRating = 100

// Backend is the node surface the client needs. *ethclient.Client satisfies
// it; tests substitute a fake.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Config wires a client to one deployment of the registries.
type Config struct {
	RPCURL         string
	IdentityAddr   string
	ReputationAddr string
	ValidationAddr string
	TokenAddr      string
	PrivateKey     *ecdsa.PrivateKey

	// ChainID is fetched from the node when nil.
	ChainID *big.Int
	Logger  *zap.Logger
}

// AgentRecord is one row of the identity registry.
type AgentRecord struct {
	AgentID *big.Int
	Domain  string
	Address common.Address
}

// Client talks to one registry deployment on behalf of one agent key.
// It is safe for concurrent use.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	log     *zap.Logger

	identity   *bind.BoundContract
	reputation *bind.BoundContract
	validation *bind.BoundContract
	token      *bind.BoundContract
	tokenAddr  common.Address

	mu       sync.Mutex
	regFee   *big.Int
	metadata *TokenMetadata
}

// New dials the RPC node and builds a client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed to connect to rpc node", err)
	}
	return NewWithBackend(ctx, cfg, backend)
}

// NewWithBackend builds a client on an existing backend.
func NewWithBackend(ctx context.Context, cfg Config, backend Backend) (*Client, error) {
	if cfg.PrivateKey == nil {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "private key is required")
	}
	for name, addr := range map[string]string{
		"identity":   cfg.IdentityAddr,
		"reputation": cfg.ReputationAddr,
		"validation": cfg.ValidationAddr,
		"token":      cfg.TokenAddr,
	} {
		if !common.IsHexAddress(addr) {
			return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "invalid %s registry address: %q", name, addr)
		}
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ledger")

	chainID := cfg.ChainID
	if chainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed to read chain id", err)
		}
		chainID = id
	}

	c := &Client{
		backend:   backend,
		key:       cfg.PrivateKey,
		address:   crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		chainID:   new(big.Int).Set(chainID),
		log:       log,
		tokenAddr: common.HexToAddress(cfg.TokenAddr),
	}

	for _, def := range []struct {
		json []byte
		addr string
		dst  **bind.BoundContract
	}{
		{IdentityRegistryABI, cfg.IdentityAddr, &c.identity},
		{ReputationRegistryABI, cfg.ReputationAddr, &c.reputation},
		{ValidationRegistryABI, cfg.ValidationAddr, &c.validation},
		{TokenABI, cfg.TokenAddr, &c.token},
	} {
		parsed, err := abi.JSON(strings.NewReader(string(def.json)))
		if err != nil {
			return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to parse contract ABI", err)
		}
		*def.dst = bind.NewBoundContract(common.HexToAddress(def.addr), parsed, backend, backend, backend)
	}

	return c, nil
}

// Address returns the agent address derived from the signing key.
func (c *Client) Address() common.Address { return c.address }

// ChainID returns the chain this client is bound to.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// TokenAddress returns the payment token contract address.
func (c *Client) TokenAddress() common.Address { return c.tokenAddr }

// Backend exposes the underlying node connection for components that manage
// their own transactions, like the facilitator hot wallet.
func (c *Client) Backend() Backend { return c.backend }

// RegisterAgent registers this client's address under the given domain and
// returns the assigned agent id. Registration pays the registry's fixed fee.
//
// An address that is already registered fails with ErrAlreadyRegistered;
// callers are expected to recover by resolving the existing record (or
// calling UpdateAgent), not to die.
func (c *Client) RegisterAgent(ctx context.Context, domain string) (*big.Int, error) {
	if domain == "" {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "agent domain is empty")
	}

	fee, err := c.registrationFee(ctx)
	if err != nil {
		return nil, err
	}

	_, err = c.transact(ctx, c.identity, fee, "newAgent", domain, c.address)
	if err != nil {
		if agentmesh.IsKind(err, agentmesh.KindAlreadyRegistered) {
			return nil, err
		}
		// A reason-less revert is most often a lost race against another
		// registration of the same address; check before giving up.
		if _, exists, rerr := c.ResolveByAddress(ctx, c.address); rerr == nil && exists {
			return nil, agentmesh.Wrap(agentmesh.KindAlreadyRegistered, "address already registered", err)
		}
		return nil, err
	}

	rec, exists, err := c.ResolveByAddress(ctx, c.address)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, agentmesh.E(agentmesh.KindInternal, "registration mined but agent does not resolve")
	}
	c.log.Info("agent registered",
		zap.String("domain", domain),
		zap.String("agentId", rec.AgentID.String()))
	return rec.AgentID, nil
}

// UpdateAgent rebinds this client's existing registration to a new domain.
func (c *Client) UpdateAgent(ctx context.Context, newDomain string) error {
	if newDomain == "" {
		return agentmesh.E(agentmesh.KindInvalidArgument, "agent domain is empty")
	}
	_, exists, err := c.ResolveByAddress(ctx, c.address)
	if err != nil {
		return err
	}
	if !exists {
		return agentmesh.E(agentmesh.KindInvalidArgument, "cannot update: address is not registered")
	}
	_, err = c.transact(ctx, c.identity, nil, "updateAgent", newDomain)
	return err
}

// ResolveByAddress looks up the agent record bound to an address.
func (c *Client) ResolveByAddress(ctx context.Context, addr common.Address) (AgentRecord, bool, error) {
	var out []interface{}
	err := withRetry(ctx, c.log, "resolveByAddress", func() error {
		out = nil
		return c.identity.Call(&bind.CallOpts{Context: ctx}, &out, "resolveByAddress", addr)
	})
	if err != nil {
		return AgentRecord{}, false, rpcError("resolveByAddress", err)
	}
	return recordFromOutputs(out)
}

// ResolveByDomain looks up the agent record bound to a discovery domain.
func (c *Client) ResolveByDomain(ctx context.Context, domain string) (AgentRecord, bool, error) {
	var out []interface{}
	err := withRetry(ctx, c.log, "resolveByDomain", func() error {
		out = nil
		return c.identity.Call(&bind.CallOpts{Context: ctx}, &out, "resolveByDomain", domain)
	})
	if err != nil {
		return AgentRecord{}, false, rpcError("resolveByDomain", err)
	}
	return recordFromOutputs(out)
}

// submitRating records a 0..100 rating of the counterpart agent through one
// of the registry's two direction-named entry points. Resubmission by the
// same rater overwrites.
func (c *Client) submitRating(ctx context.Context, method string, counterpartID *big.Int, rating uint8) (common.Hash, error) {
	if rating > MaxRating {
		return common.Hash{}, agentmesh.Ef(agentmesh.KindInvalidArgument, "rating %d out of range [0,%d]", rating, MaxRating)
	}
	receipt, err := c.transact(ctx, c.reputation, nil, method, counterpartID, rating)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// RateServer records a buyer's rating of the serving agent.
func (c *Client) RateServer(ctx context.Context, serverID *big.Int, rating uint8) (common.Hash, error) {
	return c.submitRating(ctx, "rateServer", serverID, rating)
}

// RateClient records a server's rating of the buying agent.
func (c *Client) RateClient(ctx context.Context, clientID *big.Int, rating uint8) (common.Hash, error) {
	return c.submitRating(ctx, "rateClient", clientID, rating)
}

// GetRating reads the rating the rater has on record for the ratee.
func (c *Client) GetRating(ctx context.Context, raterID, rateeID *big.Int) (uint8, bool, error) {
	var out []interface{}
	err := withRetry(ctx, c.log, "getRating", func() error {
		out = nil
		return c.reputation.Call(&bind.CallOpts{Context: ctx}, &out, "getRating", raterID, rateeID)
	})
	if err != nil {
		return 0, false, rpcError("getRating", err)
	}
	if len(out) != 2 {
		return 0, false, agentmesh.Ef(agentmesh.KindInternal, "unexpected getRating outputs: %d", len(out))
	}
	rating, okRating := out[0].(uint8)
	exists, okExists := out[1].(bool)
	if !okRating || !okExists {
		return 0, false, agentmesh.E(agentmesh.KindInternal, "unexpected getRating output types")
	}
	return rating, exists, nil
}

// RequestValidation records an on-chain validation request for a data hash,
// naming the validator that must respond.
func (c *Client) RequestValidation(ctx context.Context, validatorID, sellerID *big.Int, dataHash [32]byte) (common.Hash, error) {
	receipt, err := c.transact(ctx, c.validation, nil, "validationRequest", validatorID, sellerID, dataHash)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ValidationRequest is one pending row of the validation registry.
type ValidationRequest struct {
	ValidatorID    *big.Int
	SellerID       *big.Int
	ExpiresAtBlock *big.Int
	Responded      bool
}

// GetValidationRequest reads the open request for a data hash. The second
// return is false when no request was ever recorded.
func (c *Client) GetValidationRequest(ctx context.Context, dataHash [32]byte) (ValidationRequest, bool, error) {
	var out []interface{}
	err := withRetry(ctx, c.log, "getValidationRequest", func() error {
		out = nil
		return c.validation.Call(&bind.CallOpts{Context: ctx}, &out, "getValidationRequest", dataHash)
	})
	if err != nil {
		return ValidationRequest{}, false, rpcError("getValidationRequest", err)
	}
	if len(out) != 5 {
		return ValidationRequest{}, false, agentmesh.Ef(agentmesh.KindInternal, "unexpected getValidationRequest outputs: %d", len(out))
	}
	validatorID, okValidator := out[0].(*big.Int)
	sellerID, okSeller := out[1].(*big.Int)
	expires, okExpires := out[2].(*big.Int)
	responded, okResponded := out[3].(bool)
	exists, okExists := out[4].(bool)
	if !okValidator || !okSeller || !okExpires || !okResponded || !okExists {
		return ValidationRequest{}, false, agentmesh.E(agentmesh.KindInternal, "unexpected getValidationRequest output types")
	}
	if !exists {
		return ValidationRequest{}, false, nil
	}
	return ValidationRequest{
		ValidatorID:    validatorID,
		SellerID:       sellerID,
		ExpiresAtBlock: expires,
		Responded:      responded,
	}, true, nil
}

// BlockNumber reads the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (*big.Int, error) {
	var head *types.Header
	err := withRetry(ctx, c.log, "headerByNumber", func() error {
		var inner error
		head, inner = c.backend.HeaderByNumber(ctx, nil)
		return inner
	})
	if err != nil {
		return nil, rpcError("headerByNumber", err)
	}
	return new(big.Int).Set(head.Number), nil
}

// RespondValidation submits this agent's score for a pending validation
// request. Only the designated validator may respond, exactly once, before
// the request expires.
func (c *Client) RespondValidation(ctx context.Context, dataHash [32]byte, score uint8) (common.Hash, error) {
	if score > MaxRating {
		return common.Hash{}, agentmesh.Ef(agentmesh.KindInvalidArgument, "score %d out of range [0,%d]", score, MaxRating)
	}
	receipt, err := c.transact(ctx, c.validation, nil, "validationResponse", dataHash, score)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// GetValidationResponse reads the recorded response for a data hash.
func (c *Client) GetValidationResponse(ctx context.Context, dataHash [32]byte) (uint8, bool, error) {
	var out []interface{}
	err := withRetry(ctx, c.log, "getValidationResponse", func() error {
		out = nil
		return c.validation.Call(&bind.CallOpts{Context: ctx}, &out, "getValidationResponse", dataHash)
	})
	if err != nil {
		return 0, false, rpcError("getValidationResponse", err)
	}
	if len(out) != 2 {
		return 0, false, agentmesh.Ef(agentmesh.KindInternal, "unexpected getValidationResponse outputs: %d", len(out))
	}
	score, okScore := out[0].(uint8)
	exists, okExists := out[1].(bool)
	if !okScore || !okExists {
		return 0, false, agentmesh.E(agentmesh.KindInternal, "unexpected getValidationResponse output types")
	}
	return score, exists, nil
}

// registrationFee reads the identity registry's fixed fee, caching it for
// the life of the client.
func (c *Client) registrationFee(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	if c.regFee != nil {
		fee := new(big.Int).Set(c.regFee)
		c.mu.Unlock()
		return fee, nil
	}
	c.mu.Unlock()

	var out []interface{}
	err := withRetry(ctx, c.log, "registrationFee", func() error {
		out = nil
		return c.identity.Call(&bind.CallOpts{Context: ctx}, &out, "registrationFee")
	})
	if err != nil {
		return nil, rpcError("registrationFee", err)
	}
	if len(out) != 1 {
		return nil, agentmesh.Ef(agentmesh.KindInternal, "unexpected registrationFee outputs: %d", len(out))
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, agentmesh.E(agentmesh.KindInternal, "unexpected registrationFee output type")
	}

	c.mu.Lock()
	c.regFee = new(big.Int).Set(fee)
	c.mu.Unlock()
	return new(big.Int).Set(fee), nil
}

// transact submits one contract write and waits for a single confirmation.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, value *big.Int, method string, args ...interface{}) (*types.Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to create transactor", err)
	}
	opts.Context = ctx
	if value != nil {
		opts.Value = value
	}

	var tx *types.Transaction
	err = withRetry(ctx, c.log, method, func() error {
		sent, terr := contract.Transact(opts, method, args...)
		if terr != nil {
			return classifySubmitError(method, terr)
		}
		tx = sent
		return nil
	})
	if err != nil {
		return nil, err
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, agentmesh.Wrap(agentmesh.KindTimeout, "gave up waiting for "+method+" receipt", err)
		}
		return nil, agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed waiting for "+method+" receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, agentmesh.Ef(agentmesh.KindInternal, "%s transaction reverted: %s", method, tx.Hash().Hex())
	}

	c.log.Debug("transaction mined",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("gasUsed", receipt.GasUsed))
	return receipt, nil
}

// classifySubmitError maps node rejections onto the error taxonomy. Revert
// reasons surface at gas estimation time and carry the contract's require
// message; anything else is a transport failure.
func classifySubmitError(method string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already registered"):
		return agentmesh.Wrap(agentmesh.KindAlreadyRegistered, "address already registered", err)
	case strings.Contains(msg, "unauthorized validator"):
		return agentmesh.Wrap(agentmesh.KindUnauthorizedValidator, "only the designated validator may respond", err)
	case strings.Contains(msg, "already responded"):
		return agentmesh.Wrap(agentmesh.KindAlreadyResponded, "validation request already answered", err)
	case strings.Contains(msg, "request expired"):
		return agentmesh.Wrap(agentmesh.KindRequestExpired, "validation request expired", err)
	case strings.Contains(msg, "request not found"):
		return agentmesh.Wrap(agentmesh.KindRequestNotFound, "validation request not found", err)
	case strings.Contains(msg, "rating out of range"):
		return agentmesh.Wrap(agentmesh.KindInvalidArgument, "rating out of range", err)
	case strings.Contains(msg, "insufficient funds"):
		return agentmesh.Wrap(agentmesh.KindInsufficientBalance, "insufficient funds for "+method, err)
	case strings.Contains(msg, "execution reverted"):
		return agentmesh.Wrap(agentmesh.KindInternal, method+" would revert", err)
	default:
		return agentmesh.Wrap(agentmesh.KindRpcUnavailable, "failed to submit "+method, err)
	}
}

// rpcError tags raw read failures; errors already in the taxonomy pass
// through unchanged.
func rpcError(op string, err error) error {
	var tagged *agentmesh.Error
	if errors.As(err, &tagged) {
		return err
	}
	return agentmesh.Wrap(agentmesh.KindRpcUnavailable, op+" failed", err)
}

// recordFromOutputs decodes a resolve call. A zero agent id means the record
// does not exist.
func recordFromOutputs(out []interface{}) (AgentRecord, bool, error) {
	if len(out) != 3 {
		return AgentRecord{}, false, agentmesh.Ef(agentmesh.KindInternal, "unexpected resolve outputs: %d", len(out))
	}
	id, okID := out[0].(*big.Int)
	domain, okDomain := out[1].(string)
	addr, okAddr := out[2].(common.Address)
	if !okID || !okDomain || !okAddr {
		return AgentRecord{}, false, agentmesh.E(agentmesh.KindInternal, "unexpected resolve output types")
	}
	if id.Sign() == 0 {
		return AgentRecord{}, false, nil
	}
	return AgentRecord{AgentID: id, Domain: domain, Address: addr}, true, nil
}
