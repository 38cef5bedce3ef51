// Package ginmw adapts the x402 payment handler to gin. The middleware
// enforces verify-before-work and settle-after-work around the wrapped
// endpoint.
package ginmw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/x402"
)

// Payment wraps a gin route with pay-to-access semantics for one price.
//
// Requests without an X-Payment header receive a 402 carrying the accepted
// requirement. Verified requests run the inner handler; the payment settles
// only after the handler succeeded, and the settlement receipt rides back in
// the X-Payment-Response header.
func Payment(handler *x402.Handler, price x402.PriceDecl) gin.HandlerFunc {
	if err := price.Validate(); err != nil {
		panic(err)
	}
	requirement := price.Requirement()

	return func(c *gin.Context) {
		paymentHeader := c.GetHeader(agentmesh.HeaderPayment)
		if paymentHeader == "" {
			c.AbortWithStatusJSON(http.StatusPaymentRequired,
				x402.PaymentRequired(requirement, "Payment required"))
			return
		}

		auth, verify, err := handler.VerifyHeader(c.Request.Context(), paymentHeader, requirement)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "payment verification unavailable"})
			return
		}
		if !verify.IsValid {
			c.AbortWithStatusJSON(http.StatusPaymentRequired,
				x402.PaymentRequired(requirement, verify.Reason))
			return
		}

		// Capture the handler's output: nothing reaches the wire until the
		// settlement decision is made.
		capture := &responseCapture{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = capture
		c.Next()
		c.Writer = capture.ResponseWriter

		if c.IsAborted() || capture.status < http.StatusOK || capture.status >= http.StatusMultipleChoices {
			// The seller produced no sellable output; never settle for it.
			capture.flush()
			return
		}

		settlement, err := handler.Settle(c.Request.Context(), auth, requirement)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired,
				x402.PaymentRequired(requirement, "settlement-failed: "+err.Error()))
			return
		}
		if !settlement.Success {
			c.AbortWithStatusJSON(http.StatusPaymentRequired,
				x402.PaymentRequired(requirement, "settlement-failed: "+settlement.Reason))
			return
		}

		settleHeader, err := agentmesh.EncodeSettlementHeader(settlement)
		if err == nil {
			c.Writer.Header().Set(agentmesh.HeaderPaymentResponse, settleHeader)
		}
		capture.flush()
	}
}

// responseCapture buffers the inner handler's response so the middleware
// can decide whether to settle before anything reaches the client.
type responseCapture struct {
	gin.ResponseWriter
	body    strings.Builder
	status  int
	written bool
}

func (w *responseCapture) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
}

func (w *responseCapture) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *responseCapture) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

// flush replays the captured response onto the real writer.
func (w *responseCapture) flush() {
	w.ResponseWriter.WriteHeader(w.status)
	w.ResponseWriter.Write([]byte(w.body.String())) //nolint:errcheck
}
