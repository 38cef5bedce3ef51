package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/gluenet/agentmesh"
)

// stubFacilitator approves every payment and settles instantly.
type stubFacilitator struct {
	verifies atomic.Int64
	settles  atomic.Int64
}

func (f *stubFacilitator) Verify(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.VerifyResponse, error) {
	f.verifies.Add(1)
	return agentmesh.VerifyResponse{IsValid: true}, nil
}

func (f *stubFacilitator) Settle(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.SettleResponse, error) {
	f.settles.Add(1)
	return agentmesh.SettleResponse{Success: true, Transaction: "0xdeed"}, nil
}

// TestDiscoverAndBuy runs the whole marketplace loop in-process: a seller
// agent serves a priced skill, a buyer agent discovers it, hits the
// paywall, signs and retries, and walks away with the payload.
func TestDiscoverAndBuy(t *testing.T) {
	ctx := context.Background()
	fc := &stubFacilitator{}

	// The seller's domain must be the test server's host, which does not
	// exist until the server starts; route through a swappable handler.
	var handler atomic.Pointer[echo.Echo]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Load().ServeHTTP(w, r)
	}))
	defer srv.Close()
	domain := strings.TrimPrefix(srv.URL, "http://")

	sellerLedger := newMockLedger()
	sellerCfg := testConfig(t, sellerLedger, testKey(t))
	sellerCfg.Domain = domain
	sellerCfg.Facilitator = fc
	sellerCfg.Skills = []SkillSpec{{
		SkillID:       "get_logs",
		Name:          "Get chat logs",
		PriceAmount:   "10000",
		PriceCurrency: "GLUE",
		EndpointPath:  "/skills/get_logs",
	}}

	seller, err := New(sellerCfg, WithDiscoveryScheme("http"))
	if err != nil {
		t.Fatalf("New seller: %v", err)
	}
	var skillCalls atomic.Int64
	if err := seller.HandleSkill("get_logs", func(c echo.Context) error {
		skillCalls.Add(1)
		return c.JSON(http.StatusOK, map[string]string{"payload": "alice: gm\nbob: gm gm"})
	}); err != nil {
		t.Fatalf("HandleSkill: %v", err)
	}
	if err := seller.Bootstrap(ctx); err != nil {
		t.Fatalf("seller Bootstrap: %v", err)
	}
	router, err := seller.Router()
	if err != nil {
		t.Fatalf("Router: %v", err)
	}
	handler.Store(router)

	buyer, err := New(testConfig(t, newMockLedger(), testKey(t)), WithDiscoveryScheme("http"))
	if err != nil {
		t.Fatalf("New buyer: %v", err)
	}
	if err := buyer.Bootstrap(ctx); err != nil {
		t.Fatalf("buyer Bootstrap: %v", err)
	}

	card, err := buyer.Discover(ctx, domain)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	skill, ok := card.FindSkill("get_logs")
	if !ok || skill.PriceAmount != "10000" {
		t.Fatalf("skill = %+v ok=%v", skill, ok)
	}

	purchase, err := buyer.Buy(ctx, card, "get_logs", json.RawMessage(`{"since":"2026-08-01"}`), nil)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if purchase.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", purchase.StatusCode, purchase.Body)
	}
	var payload map[string]string
	if err := json.Unmarshal(purchase.Body, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !strings.Contains(payload["payload"], "gm") {
		t.Fatalf("payload = %q", payload["payload"])
	}
	if purchase.Settlement == nil || purchase.Settlement.Transaction != "0xdeed" {
		t.Fatalf("settlement = %+v", purchase.Settlement)
	}

	// The unpaid probe never reaches the handler; only the paid retry does.
	if got := skillCalls.Load(); got != 1 {
		t.Fatalf("skill ran %d times, want 1", got)
	}
	if fc.verifies.Load() != 1 || fc.settles.Load() != 1 {
		t.Fatalf("verifies=%d settles=%d, want 1/1", fc.verifies.Load(), fc.settles.Load())
	}
}

func TestRouterRefusesUnhandledSkill(t *testing.T) {
	cfg := testConfig(t, newMockLedger(), testKey(t))
	cfg.Facilitator = &stubFacilitator{}
	cfg.Skills = []SkillSpec{{
		SkillID:       "get_logs",
		Name:          "Get chat logs",
		PriceAmount:   "10000",
		PriceCurrency: "GLUE",
		EndpointPath:  "/skills/get_logs",
	}}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if _, err := a.Router(); !agentmesh.IsKind(err, agentmesh.KindInvalidArgument) {
		t.Fatalf("Router err = %v, want invalid_argument", err)
	}
}
