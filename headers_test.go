package agentmesh

import (
	"testing"
)

func TestPaymentHeaderRoundTrip(t *testing.T) {
	auth := TransferAuthorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "10000",
		ValidAfter:  "1700000000",
		ValidBefore: "1700000600",
		Nonce:       "0x0101010101010101010101010101010101010101010101010101010101010101",
		V:           27,
		R:           "0x3333333333333333333333333333333333333333333333333333333333333333",
		S:           "0x4444444444444444444444444444444444444444444444444444444444444444",
	}

	header, err := EncodePaymentHeader(auth)
	if err != nil {
		t.Fatalf("EncodePaymentHeader: %v", err)
	}
	decoded, err := DecodePaymentHeader(header)
	if err != nil {
		t.Fatalf("DecodePaymentHeader: %v", err)
	}
	if decoded != auth {
		t.Errorf("Round trip changed the authorization:\n got %+v\nwant %+v", decoded, auth)
	}
}

func TestPaymentHeaderRejectsGarbage(t *testing.T) {
	t.Run("not base64", func(t *testing.T) {
		if _, err := DecodePaymentHeader("%%%not-base64%%%"); !IsKind(err, KindInvalidArgument) {
			t.Errorf("Expected invalid_argument, got %v", err)
		}
	})

	t.Run("base64 of non-JSON", func(t *testing.T) {
		if _, err := DecodePaymentHeader("bm90IGpzb24="); !IsKind(err, KindInvalidArgument) {
			t.Errorf("Expected invalid_argument, got %v", err)
		}
	})
}

func TestSettlementHeaderRoundTrip(t *testing.T) {
	for _, tt := range []struct {
		name       string
		settlement SettleResponse
	}{
		{"success with transaction", SettleResponse{Success: true, Transaction: "0xdeed"}},
		{"failure with reason", SettleResponse{Success: false, Reason: "nonce-used"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			header, err := EncodeSettlementHeader(tt.settlement)
			if err != nil {
				t.Fatalf("EncodeSettlementHeader: %v", err)
			}
			decoded, err := DecodeSettlementHeader(header)
			if err != nil {
				t.Fatalf("DecodeSettlementHeader: %v", err)
			}
			if decoded != tt.settlement {
				t.Errorf("Round trip changed the settlement:\n got %+v\nwant %+v", decoded, tt.settlement)
			}
		})
	}
}
