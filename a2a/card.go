// Package a2a implements the agent-to-agent discovery protocol: the
// AgentCard document, its well-known publication surface and the client
// that finds and invokes skills on remote agents.
package a2a

import "encoding/json"

// WellKnownPath is where every agent serves its current card.
const WellKnownPath = "/.well-known/agent-card"

// Skill advertises one purchasable capability on an agent's card. Prices
// are atomic token units as decimal strings, same convention as the
// payment requirement they end up in.
type Skill struct {
	SkillID       string          `json:"skillId"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	PriceAmount   string          `json:"priceAmount"`
	PriceCurrency string          `json:"priceCurrency"`
	InputSchema   json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema  json.RawMessage `json:"outputSchema,omitempty"`
	EndpointPath  string          `json:"endpointPath"`
}

// AgentCard is the self-describing document an agent publishes at the
// well-known path. Discoverers replicate it; only the publishing agent
// writes it.
type AgentCard struct {
	AgentID        uint64   `json:"agentId"`
	Domain         string   `json:"domain"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Version        string   `json:"version"`
	Skills         []Skill  `json:"skills"`
	TrustModels    []string `json:"trustModels"`
	PaymentMethods []string `json:"paymentMethods"`
}

// FindSkill looks a skill up by id.
func (c AgentCard) FindSkill(skillID string) (Skill, bool) {
	for _, s := range c.Skills {
		if s.SkillID == skillID {
			return s, true
		}
	}
	return Skill{}, false
}

// SupportsTrustModel reports whether the card advertises the given trust
// model tag. The tag is advisory; nothing here enforces it.
func (c AgentCard) SupportsTrustModel(tag string) bool {
	for _, t := range c.TrustModels {
		if t == tag {
			return true
		}
	}
	return false
}
