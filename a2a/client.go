package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gluenet/agentmesh"
)

// DefaultDiscoverTimeout bounds one card fetch.
const DefaultDiscoverTimeout = 10 * time.Second

// Client discovers remote agents by domain and invokes their skills.
type Client struct {
	http   *http.Client
	scheme string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the transport, mainly for tests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.http = client }
}

// WithScheme overrides the https default so tests can point the client
// at plain-http test servers.
func WithScheme(scheme string) ClientOption {
	return func(c *Client) { c.scheme = scheme }
}

// NewClient builds a discovery client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{scheme: "https"}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultDiscoverTimeout}
	}
	return c
}

// Discover fetches, validates and parses the agent card published at the
// given domain. Host resolution is case-insensitive, so the domain is
// lowercased before it becomes a URL.
func (c *Client) Discover(ctx context.Context, domain string) (AgentCard, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return AgentCard{}, agentmesh.E(agentmesh.KindInvalidArgument, "domain is required")
	}

	url := c.scheme + "://" + domain + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return AgentCard{}, agentmesh.Wrap(agentmesh.KindInvalidArgument, "build discovery request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return AgentCard{}, agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "fetch agent card from "+domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AgentCard{}, agentmesh.Ef(agentmesh.KindInvalidAgentCard,
			"agent card fetch from %s returned %d", domain, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return AgentCard{}, agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "read agent card body", err)
	}
	if err := ValidateCard(raw); err != nil {
		return AgentCard{}, err
	}
	var card AgentCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return AgentCard{}, agentmesh.Wrap(agentmesh.KindInvalidAgentCard, "parse agent card", err)
	}
	return card, nil
}

// SkillURL resolves the absolute endpoint URL for a skill on a card's
// domain, under this client's scheme.
func (c *Client) SkillURL(card AgentCard, skill Skill) string {
	return c.scheme + "://" + strings.ToLower(card.Domain) + skill.EndpointPath
}

// Invoke POSTs params to a skill's endpoint on the card's domain,
// forwarding the payment header when one is given. The caller owns the
// returned response and its body; payment negotiation (402 handling,
// signing, retry) belongs to the x402 buyer, not here.
func (c *Client) Invoke(ctx context.Context, card AgentCard, skillID string, params json.RawMessage, paymentHeader string) (*http.Response, error) {
	skill, ok := card.FindSkill(skillID)
	if !ok {
		return nil, agentmesh.Ef(agentmesh.KindInvalidArgument,
			"agent %s does not advertise skill %q", card.Domain, skillID)
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	url := c.scheme + "://" + strings.ToLower(card.Domain) + skill.EndpointPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(params))
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInvalidArgument, "build skill request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if paymentHeader != "" {
		req.Header.Set(agentmesh.HeaderPayment, paymentHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "invoke skill "+skillID, err)
	}
	return resp, nil
}
