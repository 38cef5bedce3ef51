package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/a2a"
	"github.com/gluenet/agentmesh/payments"
	"github.com/gluenet/agentmesh/x402"
)

// Bootstrap brings the agent on-chain: load the key, derive the address,
// confirm (or create) the identity registration and publish the card.
// Any failure leaves the agent in the last state it reached and is fatal
// to the caller; a second call on a bootstrapped agent is refused.
func (a *Agent) Bootstrap(ctx context.Context) error {
	if a.state.current() != StateInit {
		return agentmesh.E(agentmesh.KindInvalidArgument, "bootstrap already ran")
	}

	// INIT → KEY_LOADED
	key, err := a.cfg.Vault.GetPrivateKey(ctx, a.cfg.Name)
	if err != nil {
		return stage("load key", err)
	}
	signer, err := payments.NewSigner(key)
	if err != nil {
		return stage("build signer", err)
	}
	a.signer = signer
	a.state.advance(StateKeyLoaded)

	// KEY_LOADED → ADDRESS_KNOWN
	a.address = signer.Address()
	led, err := a.cfg.NewLedger(ctx, key)
	if err != nil {
		return stage("connect ledger", err)
	}
	a.ledger = led
	a.state.advance(StateAddressKnown)
	a.log.Info("address derived", zap.String("address", a.address.Hex()))

	// ADDRESS_KNOWN → IDENTITY_CONFIRMED
	record, found, err := led.ResolveByAddress(ctx, a.address)
	if err != nil {
		return stage("resolve identity", err)
	}
	if !found {
		_, err := led.RegisterAgent(ctx, a.cfg.Domain)
		if err != nil && !agentmesh.IsKind(err, agentmesh.KindAlreadyRegistered) {
			return stage("register agent", err)
		}
		// Already-registered means another path won the race; either way
		// the registry now has us.
		record, found, err = led.ResolveByAddress(ctx, a.address)
		if err != nil {
			return stage("re-resolve identity", err)
		}
		if !found {
			return agentmesh.E(agentmesh.KindInternal, "registered but not resolvable")
		}
	}
	a.agentID = record.AgentID
	a.state.advance(StateIdentityConfirmed)
	a.log.Info("identity confirmed",
		zap.String("agentId", a.agentID.String()),
		zap.String("domain", record.Domain))

	// IDENTITY_CONFIRMED → READY
	a.token, err = led.TokenMetadata(ctx)
	if err != nil {
		return stage("read token metadata", err)
	}

	card, err := a.buildCard()
	if err != nil {
		return stage("build card", err)
	}
	a.publisher, err = a2a.NewPublisher(card)
	if err != nil {
		return stage("publish card", err)
	}

	clientOpts := []a2a.ClientOption{a2a.WithScheme(a.a2aScheme)}
	buyerOpts := []x402.BuyerOption{}
	if a.httpClient != nil {
		clientOpts = append(clientOpts, a2a.WithHTTPClient(a.httpClient))
		buyerOpts = append(buyerOpts, x402.WithHTTPClient(a.httpClient))
	}
	a.a2aClient = a2a.NewClient(clientOpts...)
	a.buyer, err = x402.NewBuyer(signer, led.ChainID(), buyerOpts...)
	if err != nil {
		return stage("build buyer", err)
	}

	if a.cfg.Facilitator != nil {
		a.payments, err = x402.NewHandler(a.cfg.Facilitator)
		if err != nil {
			return stage("build payment handler", err)
		}
	}

	a.state.advance(StateReady)
	a.log.Info("agent ready",
		zap.String("domain", a.cfg.Domain),
		zap.Int("skills", len(a.cfg.Skills)))
	return nil
}

func stage(name string, err error) error {
	return agentmesh.Wrap(agentmesh.KindOf(err), "bootstrap: "+name, err)
}

func (a *Agent) buildCard() (a2a.AgentCard, error) {
	card := a2a.AgentCard{
		AgentID:        a.agentID.Uint64(),
		Domain:         a.cfg.Domain,
		Name:           a.cfg.Name,
		Description:    "agentmesh marketplace agent",
		Version:        a.cfg.Version,
		Skills:         make([]a2a.Skill, 0, len(a.cfg.Skills)),
		TrustModels:    []string{"erc-8004"},
		PaymentMethods: []string{"x402-eip3009"},
	}
	for _, spec := range a.cfg.Skills {
		skill, err := spec.cardSkill()
		if err != nil {
			return a2a.AgentCard{}, err
		}
		card.Skills = append(card.Skills, skill)
	}
	return card, nil
}

// priceDecl derives the middleware price for one skill from the manifest
// entry plus on-chain token facts.
func (a *Agent) priceDecl(spec SkillSpec) (x402.PriceDecl, error) {
	amount, err := spec.price()
	if err != nil {
		return x402.PriceDecl{}, err
	}
	return x402.PriceDecl{
		Amount:       amount,
		Asset:        a.ledger.TokenAddress().Hex(),
		PayTo:        a.address.Hex(),
		Network:      a.cfg.Network,
		TokenName:    a.token.Name,
		TokenVersion: a.token.Version,
	}, nil
}
