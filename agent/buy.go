package agent

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/a2a"
	"github.com/gluenet/agentmesh/x402"
)

// Buy purchases one skill invocation from a discovered agent. The seller
// is probed without payment first; its 402 carries the authoritative
// payment terms, which the buyer then signs and retries with. amount nil
// pays the seller's asking price.
func (a *Agent) Buy(ctx context.Context, card a2a.AgentCard, skillID string, params json.RawMessage, amount *big.Int) (*x402.Purchase, error) {
	if err := a.state.require(StateReady); err != nil {
		return nil, err
	}
	skill, ok := card.FindSkill(skillID)
	if !ok {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument,
			"agent %s does not advertise skill %q", card.Domain, skillID)
	}

	probe, err := a.a2aClient.Invoke(ctx, card, skillID, params, "")
	if err != nil {
		return nil, err
	}
	defer probe.Body.Close()
	body, err := io.ReadAll(io.LimitReader(probe.Body, 4<<20))
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "read probe response", err)
	}

	switch probe.StatusCode {
	case http.StatusOK:
		// Free skill, nothing to settle.
		return &x402.Purchase{StatusCode: probe.StatusCode, Body: body}, nil
	case http.StatusPaymentRequired:
	default:
		return nil, agentmesh.Ef(agentmesh.KindPaymentNotAccepted,
			"skill %q answered %d before payment", skillID, probe.StatusCode)
	}

	var required agentmesh.PaymentRequiredResponse
	if err := json.Unmarshal(body, &required); err != nil || len(required.Accepts) == 0 {
		return nil, agentmesh.E(agentmesh.KindPaymentNotAccepted,
			"402 without a usable accepts block")
	}

	return a.buyer.Buy(ctx, a.a2aClient.SkillURL(card, skill), x402.BuyRequest{
		Requirement: required.Accepts[0],
		Amount:      amount,
		Params:      params,
	})
}
