package a2a

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/labstack/echo/v4"

	"github.com/gluenet/agentmesh"
)

// cardCacheControl is the advisory cacheability window served with every
// card. Discoverers may hold a card this long without re-fetching.
const cardCacheControl = "max-age=60"

type cardSnapshot struct {
	card AgentCard
	raw  []byte
}

// Publisher serves an agent's card at the well-known path. The card is
// read-mostly: one writer (the owning agent) swaps a marshaled snapshot,
// any number of concurrent readers serve it. The served bytes are stable
// between updates so repeated fetches inside the cache window compare
// byte-identical.
type Publisher struct {
	current atomic.Pointer[cardSnapshot]
}

// NewPublisher validates and snapshots the initial card.
func NewPublisher(card AgentCard) (*Publisher, error) {
	p := &Publisher{}
	if err := p.Update(card); err != nil {
		return nil, err
	}
	return p, nil
}

// Update validates the new card and atomically replaces the served
// snapshot. A card that fails its own schema is refused and the previous
// snapshot keeps serving.
func (p *Publisher) Update(card AgentCard) error {
	raw, err := json.Marshal(card)
	if err != nil {
		return agentmesh.Wrap(agentmesh.KindInvalidAgentCard, "marshal agent card", err)
	}
	if err := ValidateCard(raw); err != nil {
		return err
	}
	p.current.Store(&cardSnapshot{card: card, raw: raw})
	return nil
}

// Card returns a copy of the currently published card.
func (p *Publisher) Card() AgentCard {
	return p.current.Load().card
}

// Handler serves the current snapshot's exact bytes.
func (p *Publisher) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		snap := p.current.Load()
		c.Response().Header().Set("Cache-Control", cardCacheControl)
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, snap.raw)
	}
}

// Mount registers the well-known route on an echo instance.
func (p *Publisher) Mount(e *echo.Echo) {
	e.GET(WellKnownPath, p.Handler())
}
