package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/payments"
)

// DefaultPurchaseTimeout bounds one Buy end to end: signing, the request,
// the seller's verify and settle, and the response.
const DefaultPurchaseTimeout = 30 * time.Second

// Buyer drives purchases: it signs a transfer authorization for the
// seller's declared price and sends the request with the X-Payment header.
type Buyer struct {
	signer  *payments.Signer
	chainID *big.Int
	http    *http.Client
	timeout time.Duration
}

// BuyerOption customizes a Buyer.
type BuyerOption func(*Buyer)

// WithHTTPClient substitutes the transport, mainly for tests.
func WithHTTPClient(client *http.Client) BuyerOption {
	return func(b *Buyer) { b.http = client }
}

// WithPurchaseTimeout overrides the per-purchase deadline.
func WithPurchaseTimeout(d time.Duration) BuyerOption {
	return func(b *Buyer) { b.timeout = d }
}

// NewBuyer builds a Buyer for one signing key on one chain.
func NewBuyer(signer *payments.Signer, chainID *big.Int, opts ...BuyerOption) (*Buyer, error) {
	if signer == nil {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "signer is required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "chain id must be positive")
	}
	b := &Buyer{
		signer:  signer,
		chainID: new(big.Int).Set(chainID),
		timeout: DefaultPurchaseTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.http == nil {
		b.http = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// One redirect, to tolerate a seller behind a canonical-host
				// rewrite without following chains.
				if len(via) > 1 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}
	return b, nil
}

// BuyRequest describes one purchase attempt.
type BuyRequest struct {
	// Requirement mirrors the seller's declared payment parameters, usually
	// derived from its AgentCard skill price.
	Requirement agentmesh.PaymentRequirement

	// Amount is the negotiated price in smallest units. Zero means pay the
	// requirement's maxAmount.
	Amount *big.Int

	// Params is the JSON-encoded request body for the skill endpoint.
	Params json.RawMessage
}

// Purchase is the outcome of a Buy.
type Purchase struct {
	StatusCode int
	Body       []byte
	Settlement *agentmesh.SettleResponse
	PaymentID  string

	// Ambiguous is set when the deadline expired after the payment was sent:
	// the settlement may have landed unobserved. Callers reconcile by
	// checking the authorization nonce on chain; a consumed nonce means the
	// purchase went through.
	Ambiguous bool
}

// Buy executes the client side of the x402 flow against a skill endpoint:
// sign, send with X-Payment, and on a 402 whose accepts block this buyer can
// satisfy, adjust and retry exactly once.
func (b *Buyer) Buy(ctx context.Context, endpointURL string, req BuyRequest) (*Purchase, error) {
	if err := agentmesh.ValidateRequirement(req.Requirement); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	paymentID := "pay_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	purchase, retryWith, err := b.attempt(ctx, endpointURL, req, paymentID)
	if err != nil || retryWith == nil {
		return purchase, err
	}

	// The seller rejected our terms but published acceptable ones; one
	// adjusted retry, never more.
	req.Requirement = *retryWith
	purchase, retryWith, err = b.attempt(ctx, endpointURL, req, paymentID)
	if err != nil {
		return purchase, err
	}
	if retryWith != nil {
		return nil, agentmesh.E(agentmesh.KindPaymentNotAccepted, "seller rejected the adjusted payment")
	}
	return purchase, nil
}

// attempt performs one signed request. A non-nil requirement in the second
// return asks the caller to retry with those terms.
func (b *Buyer) attempt(ctx context.Context, endpointURL string, req BuyRequest, paymentID string) (*Purchase, *agentmesh.PaymentRequirement, error) {
	auth, err := b.sign(req)
	if err != nil {
		return nil, nil, err
	}
	header, err := agentmesh.EncodePaymentHeader(*auth)
	if err != nil {
		return nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(req.Params))
	if err != nil {
		return nil, nil, agentmesh.Wrap(agentmesh.KindInvalidArgument, "invalid endpoint URL", err)
	}
	httpReq.Header.Set(headerContentType, mimeApplicationJSON)
	httpReq.Header.Set(agentmesh.HeaderPayment, header)
	httpReq.Header.Set(agentmesh.HeaderPaymentID, paymentID)

	resp, err := b.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			return &Purchase{PaymentID: paymentID, Ambiguous: true},
				nil,
				agentmesh.Wrap(agentmesh.KindTimeout, "purchase deadline expired after payment was sent", err)
		}
		return nil, nil, agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "seller unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Purchase{PaymentID: paymentID, Ambiguous: true},
			nil,
			agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "failed reading seller response", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		retryWith, err := b.acceptable(body, req)
		return nil, retryWith, err
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		purchase := &Purchase{StatusCode: resp.StatusCode, Body: body, PaymentID: paymentID}
		if raw := resp.Header.Get(agentmesh.HeaderPaymentResponse); raw != "" {
			settlement, err := agentmesh.DecodeSettlementHeader(raw)
			if err == nil {
				purchase.Settlement = &settlement
			}
		}
		return purchase, nil, nil
	default:
		return nil, nil, agentmesh.Ef(agentmesh.KindNetworkUnavailable,
			"seller returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}

// acceptable decides whether a 402 response can be satisfied: the seller
// must accept the same asset at an amount we are already paying or less.
func (b *Buyer) acceptable(body []byte, req BuyRequest) (*agentmesh.PaymentRequirement, error) {
	var required agentmesh.PaymentRequiredResponse
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindPaymentNotAccepted, "seller 402 carried no payment requirements", err)
	}

	amount := b.amountFor(req)
	for i := range required.Accepts {
		accept := required.Accepts[i]
		if !agentmesh.SameAddress(accept.Asset, req.Requirement.Asset) {
			continue
		}
		maxAmount, err := accept.MaxAmountBig()
		if err != nil {
			continue
		}
		if maxAmount.Cmp(amount) >= 0 {
			return &accept, nil
		}
	}
	return nil, agentmesh.Ef(agentmesh.KindPaymentNotAccepted,
		"seller accepts none of our terms: %s", required.Error)
}

func (b *Buyer) amountFor(req BuyRequest) *big.Int {
	if req.Amount != nil && req.Amount.Sign() > 0 {
		return req.Amount
	}
	amount, err := req.Requirement.MaxAmountBig()
	if err != nil {
		return big.NewInt(0)
	}
	return amount
}

func (b *Buyer) sign(req BuyRequest) (*agentmesh.TransferAuthorization, error) {
	domain, err := payments.DomainFromRequirement(req.Requirement, b.chainID)
	if err != nil {
		return nil, err
	}

	window := uint64(DefaultMaxTimeoutSeconds)
	if req.Requirement.MaxTimeoutSeconds > 0 && req.Requirement.MaxTimeoutSeconds < window {
		window = req.Requirement.MaxTimeoutSeconds
	}
	validAfter, validBefore := payments.ValidityWindow(time.Duration(window) * time.Second)

	return b.signer.SignTransfer(payments.SignParams{
		To:          common.HexToAddress(req.Requirement.PayTo),
		Value:       b.amountFor(req),
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Domain:      domain,
	})
}
