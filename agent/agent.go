// Package agent composes the vault, ledger, payment and discovery layers
// into a runnable marketplace agent: it bootstraps an on-chain identity,
// publishes an agent card, serves paid skills and buys from other agents.
package agent

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/a2a"
	"github.com/gluenet/agentmesh/ledger"
	"github.com/gluenet/agentmesh/payments"
	"github.com/gluenet/agentmesh/validation"
	"github.com/gluenet/agentmesh/x402"
)

// KeyVault resolves this agent's signing key by name. A *vault.Client
// satisfies it.
type KeyVault interface {
	GetPrivateKey(ctx context.Context, agentName string) (*ecdsa.PrivateKey, error)
}

// Ledger is the on-chain surface an agent uses. A *ledger.Client
// satisfies it.
type Ledger interface {
	RegisterAgent(ctx context.Context, domain string) (*big.Int, error)
	ResolveByAddress(ctx context.Context, addr common.Address) (ledger.AgentRecord, bool, error)
	RateServer(ctx context.Context, serverID *big.Int, rating uint8) (common.Hash, error)
	RateClient(ctx context.Context, clientID *big.Int, rating uint8) (common.Hash, error)
	GetRating(ctx context.Context, raterID, rateeID *big.Int) (uint8, bool, error)
	ChainID() *big.Int
	TokenAddress() common.Address
	TokenMetadata(ctx context.Context) (ledger.TokenMetadata, error)
}

// Config wires an agent. Name doubles as the vault lookup key.
type Config struct {
	Name    string
	Domain  string
	Network string

	// Version is the card version string. Default "1.0.0".
	Version string

	Vault KeyVault

	// NewLedger builds the on-chain client once the key is loaded, so the
	// ledger signs with the same key the vault resolved.
	NewLedger func(ctx context.Context, key *ecdsa.PrivateKey) (Ledger, error)

	// Facilitator verifies and settles payments for this agent's paid
	// skills, usually an *x402.FacilitatorClient.
	Facilitator x402.Facilitator

	Skills []SkillSpec
}

// Agent is one marketplace participant. Construct with New, bring on-chain
// with Bootstrap, serve with Run.
type Agent struct {
	cfg   Config
	log   *zap.Logger
	state *stateTracker

	listenAddr string
	httpClient *http.Client
	a2aScheme  string

	engine *validation.Engine

	// Populated as Bootstrap advances.
	signer    *payments.Signer
	address   common.Address
	ledger    Ledger
	agentID   *big.Int
	token     ledger.TokenMetadata
	publisher *a2a.Publisher
	a2aClient *a2a.Client
	buyer     *x402.Buyer
	payments  *x402.Handler

	handlers map[string]echo.HandlerFunc
}

// Option customizes an Agent.
type Option func(*Agent)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// WithListenAddr sets where Run listens. Default ":8080".
func WithListenAddr(addr string) Option {
	return func(a *Agent) { a.listenAddr = addr }
}

// WithHTTPClient substitutes the outbound transport for discovery and
// purchases, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Agent) { a.httpClient = client }
}

// WithDiscoveryScheme overrides the https default on outbound discovery
// and skill URLs so tests can target plain-http servers.
func WithDiscoveryScheme(scheme string) Option {
	return func(a *Agent) { a.a2aScheme = scheme }
}

// WithValidationEngine attaches a scorer, making this agent a validator.
func WithValidationEngine(engine *validation.Engine) Option {
	return func(a *Agent) { a.engine = engine }
}

// New builds an agent in the INIT state.
func New(cfg Config, opts ...Option) (*Agent, error) {
	switch {
	case cfg.Name == "":
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "agent name is required")
	case cfg.Domain == "":
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "agent domain is required")
	case cfg.Vault == nil:
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "key vault is required")
	case cfg.NewLedger == nil:
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "ledger factory is required")
	case cfg.Network == "":
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "network is required")
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	for _, s := range cfg.Skills {
		if err := s.validate(); err != nil {
			return nil, err
		}
	}

	a := &Agent{
		cfg:        cfg,
		log:        zap.NewNop(),
		state:      newStateTracker(),
		listenAddr: ":8080",
		a2aScheme:  "https",
		handlers:   make(map[string]echo.HandlerFunc),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.Named(cfg.Name)
	return a, nil
}

// HandleSkill registers the implementation behind an advertised skill.
// Every skill in the manifest needs a handler before Run.
func (a *Agent) HandleSkill(skillID string, fn echo.HandlerFunc) error {
	for _, s := range a.cfg.Skills {
		if s.SkillID == skillID {
			a.handlers[skillID] = fn
			return nil
		}
	}
	return agentmesh.Ef(agentmesh.KindInvalidArgument, "skill %q is not in the manifest", skillID)
}

// State reports the bootstrap state.
func (a *Agent) State() State { return a.state.current() }

// Address is the agent's on-chain address, valid from ADDRESS_KNOWN on.
func (a *Agent) Address() common.Address { return a.address }

// AgentID is the identity registry id, valid from IDENTITY_CONFIRMED on.
func (a *Agent) AgentID() *big.Int {
	if a.agentID == nil {
		return nil
	}
	return new(big.Int).Set(a.agentID)
}

// Card is the currently published agent card, valid from READY on.
func (a *Agent) Card() a2a.AgentCard {
	return a.publisher.Card()
}

// Engine exposes the attached validation engine, nil for non-validators.
func (a *Agent) Engine() *validation.Engine { return a.engine }

// Discover fetches and validates a remote agent's card.
func (a *Agent) Discover(ctx context.Context, domain string) (a2a.AgentCard, error) {
	if err := a.state.require(StateReady); err != nil {
		return a2a.AgentCard{}, err
	}
	return a.a2aClient.Discover(ctx, domain)
}

// RateServer records a rating of an agent this one bought from.
func (a *Agent) RateServer(ctx context.Context, serverID *big.Int, rating uint8) (common.Hash, error) {
	if err := a.state.require(StateReady); err != nil {
		return common.Hash{}, err
	}
	return a.ledger.RateServer(ctx, serverID, rating)
}

// RateClient records a rating of an agent that bought from this one.
func (a *Agent) RateClient(ctx context.Context, clientID *big.Int, rating uint8) (common.Hash, error) {
	if err := a.state.require(StateReady); err != nil {
		return common.Hash{}, err
	}
	return a.ledger.RateClient(ctx, clientID, rating)
}

// GetRating reads the rating one agent gave another.
func (a *Agent) GetRating(ctx context.Context, raterID, rateeID *big.Int) (uint8, bool, error) {
	if err := a.state.require(StateReady); err != nil {
		return 0, false, err
	}
	return a.ledger.GetRating(ctx, raterID, rateeID)
}
