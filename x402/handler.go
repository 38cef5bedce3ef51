package x402

import (
	"context"
	"time"

	"github.com/gluenet/agentmesh"
)

// Handler is the framework-agnostic half of the server-side payment flow.
// Middleware adapters (ginmw, echomw) own the HTTP plumbing; the Handler
// owns the verify-before-work, settle-after-work contract against the
// facilitator.
type Handler struct {
	fc    Facilitator
	cache *settlementCache
}

// Facilitator is the slice of the facilitator client the handler uses.
type Facilitator interface {
	Verify(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.VerifyResponse, error)
	Settle(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.SettleResponse, error)
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithSettlementTTL overrides how long settled payments are remembered for
// replay answers.
func WithSettlementTTL(ttl time.Duration) HandlerOption {
	return func(h *Handler) {
		h.cache = newSettlementCache(ttl)
	}
}

// NewHandler builds the payment handler over a facilitator.
func NewHandler(fc Facilitator, opts ...HandlerOption) (*Handler, error) {
	if fc == nil {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "facilitator is required")
	}
	h := &Handler{fc: fc, cache: newSettlementCache(DefaultSettlementTTL)}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// PaymentRequired renders the 402 body for a requirement and reason.
func PaymentRequired(req agentmesh.PaymentRequirement, reason string) agentmesh.PaymentRequiredResponse {
	return agentmesh.PaymentRequiredResponse{
		X402Version: agentmesh.X402Version,
		Accepts:     []agentmesh.PaymentRequirement{req},
		Error:       reason,
	}
}

// VerifyHeader decodes an X-Payment header and verifies it against the
// requirement. A decode failure reports as an invalid verify result, not an
// error: the buyer sent something, it just was not a payment.
func (h *Handler) VerifyHeader(ctx context.Context, paymentHeader string, req agentmesh.PaymentRequirement) (agentmesh.TransferAuthorization, agentmesh.VerifyResponse, error) {
	auth, err := agentmesh.DecodePaymentHeader(paymentHeader)
	if err != nil {
		return auth, agentmesh.VerifyResponse{IsValid: false, Reason: "malformed payment header"}, nil
	}
	verify, err := h.fc.Verify(ctx, auth, req)
	if err != nil {
		return auth, agentmesh.VerifyResponse{}, err
	}
	return auth, verify, nil
}

// Settle settles a verified payment, deduplicating by payment fingerprint:
// the same authorization presented twice inside the TTL gets the original
// receipt and causes no second facilitator call.
func (h *Handler) Settle(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.SettleResponse, error) {
	key := paymentFingerprint(auth)

	for {
		cached, wait, done := h.cache.claim(key)
		if cached != nil {
			return *cached, nil
		}
		if wait != nil {
			result, err := h.cache.await(ctx, key, wait)
			if err != nil {
				return agentmesh.SettleResponse{}, err
			}
			if result != nil {
				return *result, nil
			}
			// The in-flight attempt failed without a result; claim again.
			continue
		}

		settlement, err := h.fc.Settle(ctx, auth, req)
		if err != nil {
			h.cache.release(key, done)
			return agentmesh.SettleResponse{}, err
		}
		h.cache.complete(key, settlement, done)
		return settlement, nil
	}
}
