package agentmesh

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// X402Version is the protocol version carried in every payment exchange.
const X402Version = 1

// SchemeExact is the only settlement scheme the runtime speaks: the payer
// authorizes an exact amount and the facilitator moves exactly that amount.
const SchemeExact = "exact"

// KindPrefix prefixes every supported-kind identifier.
const KindPrefix = "evm-eip3009-"

// KindFor builds the kind string for a token symbol, e.g. "evm-eip3009-GLUE".
func KindFor(symbol string) string {
	return KindPrefix + symbol
}

// TransferAuthorization is the complete content of a signed payment intent:
// an EIP-3009 transferWithAuthorization message plus its EIP-712 signature.
// Addresses, the nonce and the signature halves are 0x-prefixed hex strings;
// uint256 fields are decimal strings, matching the wire encoding.
type TransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	V           uint8  `json:"v"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// ValueBig parses the authorized amount.
func (a TransferAuthorization) ValueBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(a.Value, 10)
	if !ok || v.Sign() < 0 {
		return nil, Ef(KindInvalidArgument, "invalid authorization value %q", a.Value)
	}
	return v, nil
}

// Window parses the validity bounds as unix seconds.
func (a TransferAuthorization) Window() (validAfter, validBefore *big.Int, err error) {
	after, ok := new(big.Int).SetString(a.ValidAfter, 10)
	if !ok {
		return nil, nil, Ef(KindInvalidArgument, "invalid validAfter %q", a.ValidAfter)
	}
	before, ok := new(big.Int).SetString(a.ValidBefore, 10)
	if !ok {
		return nil, nil, Ef(KindInvalidArgument, "invalid validBefore %q", a.ValidBefore)
	}
	return after, before, nil
}

// NonceBytes decodes the 32-byte authorization nonce.
func (a TransferAuthorization) NonceBytes() ([32]byte, error) {
	var nonce [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(a.Nonce, "0x"))
	if err != nil {
		return nonce, Ef(KindInvalidArgument, "invalid nonce %q: %v", a.Nonce, err)
	}
	if len(raw) != 32 {
		return nonce, Ef(KindInvalidArgument, "nonce must be 32 bytes, got %d", len(raw))
	}
	copy(nonce[:], raw)
	return nonce, nil
}

// SignatureBytes reassembles the 65-byte r‖s‖v signature.
func (a TransferAuthorization) SignatureBytes() ([]byte, error) {
	r, err := hex.DecodeString(strings.TrimPrefix(a.R, "0x"))
	if err != nil || len(r) != 32 {
		return nil, Ef(KindInvalidArgument, "invalid signature r %q", a.R)
	}
	s, err := hex.DecodeString(strings.TrimPrefix(a.S, "0x"))
	if err != nil || len(s) != 32 {
		return nil, Ef(KindInvalidArgument, "invalid signature s %q", a.S)
	}
	sig := make([]byte, 65)
	copy(sig[0:32], r)
	copy(sig[32:64], s)
	sig[64] = a.V
	return sig, nil
}

// PaymentRequirement is a seller's declaration of what it will accept for a
// given resource. Extra carries the EIP-712 domain metadata of the token
// (name, version) so buyers can produce a matching signature.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset"`
	PayTo             string         `json:"payTo"`
	MaxAmount         string         `json:"maxAmount"`
	MaxTimeoutSeconds uint64         `json:"maxTimeoutSeconds"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// MaxAmountBig parses the declared ceiling.
func (r PaymentRequirement) MaxAmountBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(r.MaxAmount, 10)
	if !ok || v.Sign() < 0 {
		return nil, Ef(KindInvalidArgument, "invalid maxAmount %q", r.MaxAmount)
	}
	return v, nil
}

// ExtraString reads a string field out of the extra block.
func (r PaymentRequirement) ExtraString(key string) string {
	if r.Extra == nil {
		return ""
	}
	if s, ok := r.Extra[key].(string); ok {
		return s
	}
	return ""
}

// PaymentRequiredResponse is the body of every 402 response.
type PaymentRequiredResponse struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error,omitempty"`
}

// VerifyRequest is the facilitator /verify input body.
type VerifyRequest struct {
	PaymentPayload      TransferAuthorization `json:"paymentPayload"`
	PaymentRequirements PaymentRequirement    `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator /verify result. Predicate failures are
// reported with IsValid false and a stable reason string, never an HTTP error.
type VerifyResponse struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
}

// SettleRequest is the facilitator /settle input body.
type SettleRequest struct {
	PaymentPayload      TransferAuthorization `json:"paymentPayload"`
	PaymentRequirements PaymentRequirement    `json:"paymentRequirements"`
}

// SettleResponse is the facilitator /settle result and, base64-encoded, the
// X-Payment-Response header value.
type SettleResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// SupportedKind is one settleable (scheme, network, asset) triple.
type SupportedKind struct {
	Kind    string `json:"kind"`
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
}

// SupportedResponse enumerates what a facilitator instance can settle.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// HealthResponse is the facilitator /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	ChainID uint64 `json:"chainId"`
}

// ValidateAuthorization checks the structural invariants of an authorization
// before any cryptography: address shape, value sign, window ordering, nonce
// and signature lengths.
func ValidateAuthorization(a TransferAuthorization) error {
	if !common.IsHexAddress(a.From) {
		return Ef(KindInvalidArgument, "invalid from address %q", a.From)
	}
	if !common.IsHexAddress(a.To) {
		return Ef(KindInvalidArgument, "invalid to address %q", a.To)
	}
	value, err := a.ValueBig()
	if err != nil {
		return err
	}
	if value.Sign() == 0 {
		return E(KindInvalidArgument, "authorization value must be positive")
	}
	after, before, err := a.Window()
	if err != nil {
		return err
	}
	if after.Cmp(before) >= 0 {
		return Ef(KindInvalidArgument, "validAfter %s must precede validBefore %s", after, before)
	}
	if _, err := a.NonceBytes(); err != nil {
		return err
	}
	if _, err := a.SignatureBytes(); err != nil {
		return err
	}
	if a.V != 27 && a.V != 28 {
		return Ef(KindInvalidArgument, "signature v must be 27 or 28, got %d", a.V)
	}
	return nil
}

// ValidateRequirement checks the structural invariants of a requirement.
func ValidateRequirement(r PaymentRequirement) error {
	if r.Scheme == "" {
		return E(KindInvalidArgument, "payment scheme is required")
	}
	if r.Network == "" {
		return E(KindInvalidArgument, "payment network is required")
	}
	if !common.IsHexAddress(r.Asset) {
		return Ef(KindInvalidArgument, "invalid asset address %q", r.Asset)
	}
	if !common.IsHexAddress(r.PayTo) {
		return Ef(KindInvalidArgument, "invalid payTo address %q", r.PayTo)
	}
	if _, err := r.MaxAmountBig(); err != nil {
		return err
	}
	return nil
}

// SameAddress compares two hex addresses ignoring checksum casing.
func SameAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) &&
		common.HexToAddress(a) == common.HexToAddress(b)
}

// ShortHash abbreviates a 0x hash for log lines.
func ShortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return fmt.Sprintf("%s..%s", h[:8], h[len(h)-4:])
}
