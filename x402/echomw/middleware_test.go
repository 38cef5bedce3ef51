package echomw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/x402"
)

type fakeFacilitator struct {
	verifyResp agentmesh.VerifyResponse
	settleResp agentmesh.SettleResponse

	settles atomic.Int64
}

func (f *fakeFacilitator) Verify(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.VerifyResponse, error) {
	return f.verifyResp, nil
}

func (f *fakeFacilitator) Settle(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.SettleResponse, error) {
	f.settles.Add(1)
	return f.settleResp, nil
}

func testPrice() x402.PriceDecl {
	return x402.PriceDecl{
		Amount:       big.NewInt(10000),
		Asset:        "0x3000000000000000000000000000000000000003",
		PayTo:        "0x2000000000000000000000000000000000000002",
		Network:      "avalanche-fuji",
		TokenName:    "Glue Token",
		TokenVersion: "1",
	}
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	header, err := agentmesh.EncodePaymentHeader(agentmesh.TransferAuthorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2000000000000000000000000000000000000002",
		Value:       "10000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0x0202020202020202020202020202020202020202020202020202020202020202",
		V:           28,
		R:           "0x1111111111111111111111111111111111111111111111111111111111111111",
		S:           "0x2222222222222222222222222222222222222222222222222222222222222222",
	})
	if err != nil {
		t.Fatalf("EncodePaymentHeader: %v", err)
	}
	return header
}

func newPaywalledEcho(t *testing.T, fc *fakeFacilitator, inner echo.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	handler, err := x402.NewHandler(fc)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	var handlerCalls atomic.Int64
	e := echo.New()
	e.POST("/skills/get_logs", func(c echo.Context) error {
		handlerCalls.Add(1)
		return inner(c)
	}, Payment(handler, testPrice()))
	return httptest.NewServer(e), &handlerCalls
}

func TestMissingHeaderIs402(t *testing.T) {
	srv, handlerCalls := newPaywalledEcho(t, &fakeFacilitator{}, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"payload": "x"})
	})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/skills/get_logs", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	var required agentmesh.PaymentRequiredResponse
	if err := json.NewDecoder(resp.Body).Decode(&required); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(required.Accepts) != 1 || required.Accepts[0].MaxAmount != "10000" {
		t.Fatalf("accepts = %+v", required.Accepts)
	}
	if handlerCalls.Load() != 0 {
		t.Fatal("inner handler ran without payment")
	}
}

func TestVerifiedRequestSettlesAndCarriesReceipt(t *testing.T) {
	fc := &fakeFacilitator{
		verifyResp: agentmesh.VerifyResponse{IsValid: true},
		settleResp: agentmesh.SettleResponse{Success: true, Transaction: "0xdeed"},
	}
	srv, handlerCalls := newPaywalledEcho(t, fc, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"payload": "chat-logs"})
	})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/skills/get_logs", nil)
	req.Header.Set(agentmesh.HeaderPayment, paymentHeader(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if handlerCalls.Load() != 1 || fc.settles.Load() != 1 {
		t.Fatalf("handler=%d settles=%d, want 1/1", handlerCalls.Load(), fc.settles.Load())
	}
	settlement, err := agentmesh.DecodeSettlementHeader(resp.Header.Get(agentmesh.HeaderPaymentResponse))
	if err != nil || settlement.Transaction != "0xdeed" {
		t.Fatalf("settlement header: %v %+v", err, settlement)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["payload"] != "chat-logs" {
		t.Fatalf("body = %+v", body)
	}
}

func TestHandlerErrorIsNeverSettled(t *testing.T) {
	fc := &fakeFacilitator{verifyResp: agentmesh.VerifyResponse{IsValid: true}}
	srv, _ := newPaywalledEcho(t, fc, func(c echo.Context) error {
		return errors.New("backend exploded")
	})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/skills/get_logs", nil)
	req.Header.Set(agentmesh.HeaderPayment, paymentHeader(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if fc.settles.Load() != 0 {
		t.Fatal("settled a payment for failed output")
	}
}

func TestClientErrorResponseIsNeverSettled(t *testing.T) {
	fc := &fakeFacilitator{verifyResp: agentmesh.VerifyResponse{IsValid: true}}
	srv, _ := newPaywalledEcho(t, fc, func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no logs for that range"})
	})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/skills/get_logs", nil)
	req.Header.Set(agentmesh.HeaderPayment, paymentHeader(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if fc.settles.Load() != 0 {
		t.Fatal("settled a payment for a 404 response")
	}
	if resp.Header.Get(agentmesh.HeaderPaymentResponse) != "" {
		t.Fatal("settlement header attached to a client error")
	}
}

func TestSettlementFailureWithholdsData(t *testing.T) {
	fc := &fakeFacilitator{
		verifyResp: agentmesh.VerifyResponse{IsValid: true},
		settleResp: agentmesh.SettleResponse{Success: false, Reason: "insufficient-balance"},
	}
	srv, _ := newPaywalledEcho(t, fc, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"payload": "secret"})
	})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/skills/get_logs", nil)
	req.Header.Set(agentmesh.HeaderPayment, paymentHeader(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	var required agentmesh.PaymentRequiredResponse
	if err := json.NewDecoder(resp.Body).Decode(&required); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if required.Error == "" {
		t.Fatal("402 carried no error")
	}
	raw, _ := json.Marshal(required)
	if bytes.Contains(raw, []byte("secret")) {
		t.Fatal("data leaked on settlement failure")
	}
}
