package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/x402/echomw"
)

const shutdownGrace = 10 * time.Second

// Run serves the agent card and its skill endpoints until ctx is
// canceled, then drains in-flight requests. Every manifest skill must
// have a handler and, when priced, a facilitator to settle through.
func (a *Agent) Run(ctx context.Context) error {
	router, err := a.Router()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Start(a.listenAddr)
	}()
	a.log.Info("serving", zap.String("addr", a.listenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := router.Shutdown(shutdownCtx); err != nil {
			return agentmesh.Wrap(agentmesh.KindTimeout, "shutdown", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "serve", err)
	}
}

// Router assembles the echo instance Run serves: the well-known card
// route plus one paywalled POST route per skill. Exposed separately so
// tests can drive it with httptest.
func (a *Agent) Router() (*echo.Echo, error) {
	if err := a.state.require(StateReady); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	a.publisher.Mount(e)

	for _, spec := range a.cfg.Skills {
		fn, ok := a.handlers[spec.SkillID]
		if !ok {
			return nil, agentmesh.Ef(agentmesh.KindInvalidArgument, "skill %q has no handler", spec.SkillID)
		}
		price, err := a.priceDecl(spec)
		if err != nil {
			return nil, err
		}
		if price.Amount.Sign() == 0 {
			e.POST(spec.EndpointPath, fn)
			continue
		}
		if a.payments == nil {
			return nil, agentmesh.Ef(agentmesh.KindInvalidArgument,
				"skill %q is priced but the agent has no facilitator", spec.SkillID)
		}
		e.POST(spec.EndpointPath, fn, echomw.Payment(a.payments, price))
	}
	return e, nil
}
