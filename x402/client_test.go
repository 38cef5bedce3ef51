package x402

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/payments"
)

const (
	buyerKeyHex = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"
	sellerAddr  = "0x2000000000000000000000000000000000000002"
	glueAsset   = "0x3000000000000000000000000000000000000003"
)

var fujiChainID = big.NewInt(43113)

func sellerRequirement(maxAmount string) agentmesh.PaymentRequirement {
	return agentmesh.PaymentRequirement{
		Scheme:            agentmesh.SchemeExact,
		Network:           "avalanche-fuji",
		Asset:             glueAsset,
		PayTo:             sellerAddr,
		MaxAmount:         maxAmount,
		MaxTimeoutSeconds: 3600,
		Extra:             map[string]any{"name": "Glue Token", "version": "1"},
	}
}

func newTestBuyer(t *testing.T) *Buyer {
	t.Helper()
	signer, err := payments.NewSignerFromHex(buyerKeyHex)
	if err != nil {
		t.Fatalf("NewSignerFromHex: %v", err)
	}
	buyer, err := NewBuyer(signer, fujiChainID)
	if err != nil {
		t.Fatalf("NewBuyer: %v", err)
	}
	return buyer
}

func TestBuyHappyPath(t *testing.T) {
	settlement := agentmesh.SettleResponse{Success: true, Transaction: "0xdeed"}
	seller := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(agentmesh.HeaderPayment)
		if header == "" {
			t.Error("seller saw no X-Payment header")
		}
		auth, err := agentmesh.DecodePaymentHeader(header)
		if err != nil {
			t.Errorf("seller failed to decode payment: %v", err)
		}
		if auth.Value != "10000" {
			t.Errorf("seller saw value %q, want 10000", auth.Value)
		}
		if !strings.HasPrefix(r.Header.Get(agentmesh.HeaderPaymentID), "pay_") {
			t.Errorf("payment id %q lacks pay_ prefix", r.Header.Get(agentmesh.HeaderPaymentID))
		}
		settleHeader, _ := agentmesh.EncodeSettlementHeader(settlement)
		w.Header().Set(agentmesh.HeaderPaymentResponse, settleHeader)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"payload":"chat-logs"}`)) //nolint:errcheck
	}))
	defer seller.Close()

	buyer := newTestBuyer(t)
	purchase, err := buyer.Buy(context.Background(), seller.URL+"/skills/get_logs", BuyRequest{
		Requirement: sellerRequirement("10000"),
		Params:      json.RawMessage(`{"user":"alice"}`),
	})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if purchase.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", purchase.StatusCode)
	}
	if !strings.Contains(string(purchase.Body), "chat-logs") {
		t.Fatalf("body = %s", purchase.Body)
	}
	if purchase.Settlement == nil || purchase.Settlement.Transaction != "0xdeed" {
		t.Fatalf("settlement = %+v, want 0xdeed", purchase.Settlement)
	}
}

func TestBuyRetriesOnceOn402(t *testing.T) {
	var calls atomic.Int64
	seller := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// First attempt rejected; the accepts block offers the same
			// asset at the amount the buyer is already paying.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(PaymentRequired(sellerRequirement("10000"), "Payment required")) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"payload":"ok"}`)) //nolint:errcheck
	}))
	defer seller.Close()

	buyer := newTestBuyer(t)
	purchase, err := buyer.Buy(context.Background(), seller.URL, BuyRequest{
		Requirement: sellerRequirement("10000"),
	})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("seller saw %d requests, want 2", calls.Load())
	}
	if purchase.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", purchase.StatusCode)
	}
}

func TestBuyNeverRetriesTwice(t *testing.T) {
	var calls atomic.Int64
	seller := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(PaymentRequired(sellerRequirement("10000"), "still no")) //nolint:errcheck
	}))
	defer seller.Close()

	buyer := newTestBuyer(t)
	_, err := buyer.Buy(context.Background(), seller.URL, BuyRequest{
		Requirement: sellerRequirement("10000"),
	})
	if !agentmesh.IsKind(err, agentmesh.KindPaymentNotAccepted) {
		t.Fatalf("err = %v, want payment_not_accepted", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("seller saw %d requests, want exactly 2", calls.Load())
	}
}

func TestBuyRefusesUnsatisfiableTerms(t *testing.T) {
	seller := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The seller wants a different asset entirely.
		req := sellerRequirement("10000")
		req.Asset = "0x9999999999999999999999999999999999999999"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(PaymentRequired(req, "wrong token")) //nolint:errcheck
	}))
	defer seller.Close()

	buyer := newTestBuyer(t)
	_, err := buyer.Buy(context.Background(), seller.URL, BuyRequest{
		Requirement: sellerRequirement("10000"),
	})
	if !agentmesh.IsKind(err, agentmesh.KindPaymentNotAccepted) {
		t.Fatalf("err = %v, want payment_not_accepted", err)
	}
}

func TestBuyWindowHonorsSellerTimeout(t *testing.T) {
	seller := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, err := agentmesh.DecodePaymentHeader(r.Header.Get(agentmesh.HeaderPayment))
		if err != nil {
			t.Errorf("decode payment: %v", err)
		}
		_, before, err := auth.Window()
		if err != nil {
			t.Errorf("window: %v", err)
		}
		// maxTimeoutSeconds 60 must bound the window below the default hour.
		horizon := big.NewInt(time.Now().Unix() + 120)
		if before.Cmp(horizon) > 0 {
			t.Errorf("validBefore %s exceeds the seller's 60s ceiling", before)
		}
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer seller.Close()

	req := sellerRequirement("10000")
	req.MaxTimeoutSeconds = 60

	buyer := newTestBuyer(t)
	if _, err := buyer.Buy(context.Background(), seller.URL, BuyRequest{Requirement: req}); err != nil {
		t.Fatalf("Buy: %v", err)
	}
}

func TestFacilitatorClient503IsRpcUnavailable(t *testing.T) {
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"reason":"rpc-unavailable"}`)) //nolint:errcheck
	}))
	defer facilitator.Close()

	fc, err := NewFacilitatorClient(FacilitatorConfig{URL: facilitator.URL})
	if err != nil {
		t.Fatalf("NewFacilitatorClient: %v", err)
	}
	_, err = fc.Settle(context.Background(), agentmesh.TransferAuthorization{}, agentmesh.PaymentRequirement{})
	if !agentmesh.IsKind(err, agentmesh.KindRpcUnavailable) {
		t.Fatalf("err = %v, want rpc_unavailable", err)
	}
}

func TestFacilitatorClientRoundTrip(t *testing.T) {
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			json.NewEncoder(w).Encode(agentmesh.VerifyResponse{IsValid: true}) //nolint:errcheck
		case "/supported":
			json.NewEncoder(w).Encode(agentmesh.SupportedResponse{Kinds: []agentmesh.SupportedKind{ //nolint:errcheck
				{Kind: "evm-eip3009-GLUE", Scheme: "exact", Network: "avalanche-fuji", Asset: glueAsset},
			}})
		case "/health":
			json.NewEncoder(w).Encode(agentmesh.HealthResponse{Status: "ok", ChainID: 43113}) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	defer facilitator.Close()

	fc, err := NewFacilitatorClient(FacilitatorConfig{URL: facilitator.URL})
	if err != nil {
		t.Fatalf("NewFacilitatorClient: %v", err)
	}

	verify, err := fc.Verify(context.Background(), agentmesh.TransferAuthorization{}, agentmesh.PaymentRequirement{})
	if err != nil || !verify.IsValid {
		t.Fatalf("Verify: %v %+v", err, verify)
	}
	supported, err := fc.Supported(context.Background())
	if err != nil || len(supported.Kinds) != 1 {
		t.Fatalf("Supported: %v %+v", err, supported)
	}
	health, err := fc.Health(context.Background())
	if err != nil || health.ChainID != 43113 {
		t.Fatalf("Health: %v %+v", err, health)
	}
}
