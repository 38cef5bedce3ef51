package agentmesh

import (
	"encoding/base64"
	"encoding/json"
)

// HTTP headers of the x402 exchange.
const (
	// HeaderPayment carries base64(JSON(TransferAuthorization)) on requests
	// to paid endpoints.
	HeaderPayment = "X-Payment"

	// HeaderPaymentResponse carries base64(JSON(SettleResponse)) on the
	// success response of a paid endpoint.
	HeaderPaymentResponse = "X-Payment-Response"

	// HeaderPaymentID carries an advisory correlation id for log lines on
	// both sides of a purchase. Never required, never verified.
	HeaderPaymentID = "X-Payment-Id"
)

// EncodePaymentHeader serializes an authorization for the X-Payment header.
func EncodePaymentHeader(auth TransferAuthorization) (string, error) {
	raw, err := json.Marshal(auth)
	if err != nil {
		return "", Wrap(KindInternal, "encode payment header", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader parses an X-Payment header value.
func DecodePaymentHeader(header string) (TransferAuthorization, error) {
	var auth TransferAuthorization
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return auth, Wrap(KindInvalidArgument, "payment header is not base64", err)
	}
	if err := json.Unmarshal(raw, &auth); err != nil {
		return auth, Wrap(KindInvalidArgument, "payment header is not an authorization", err)
	}
	return auth, nil
}

// EncodeSettlementHeader serializes a settlement for X-Payment-Response.
func EncodeSettlementHeader(settlement SettleResponse) (string, error) {
	raw, err := json.Marshal(settlement)
	if err != nil {
		return "", Wrap(KindInternal, "encode settlement header", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlementHeader parses an X-Payment-Response header value.
func DecodeSettlementHeader(header string) (SettleResponse, error) {
	var settlement SettleResponse
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return settlement, Wrap(KindInvalidArgument, "settlement header is not base64", err)
	}
	if err := json.Unmarshal(raw, &settlement); err != nil {
		return settlement, Wrap(KindInvalidArgument, "settlement header is not a settlement", err)
	}
	return settlement, nil
}
