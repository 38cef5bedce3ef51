// Package echomw adapts the x402 payment handler to echo, which serves the
// agent-side HTTP surface (agent card and skill endpoints).
package echomw

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/x402"
)

// Payment wraps an echo route with pay-to-access semantics for one price.
// The contract matches ginmw.Payment: verify before the inner handler runs,
// settle only after it succeeded, receipt in X-Payment-Response.
func Payment(handler *x402.Handler, price x402.PriceDecl) echo.MiddlewareFunc {
	if err := price.Validate(); err != nil {
		panic(err)
	}
	requirement := price.Requirement()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			paymentHeader := c.Request().Header.Get(agentmesh.HeaderPayment)
			if paymentHeader == "" {
				return c.JSON(http.StatusPaymentRequired,
					x402.PaymentRequired(requirement, "Payment required"))
			}

			auth, verify, err := handler.VerifyHeader(c.Request().Context(), paymentHeader, requirement)
			if err != nil {
				return c.JSON(http.StatusServiceUnavailable,
					map[string]string{"error": "payment verification unavailable"})
			}
			if !verify.IsValid {
				return c.JSON(http.StatusPaymentRequired,
					x402.PaymentRequired(requirement, verify.Reason))
			}

			// Buffer the inner handler's output; nothing reaches the wire
			// until the settlement decision is made.
			response := c.Response()
			capture := &responseCapture{ResponseWriter: response.Writer, status: http.StatusOK}
			response.Writer = capture
			handlerErr := next(c)
			response.Writer = capture.ResponseWriter
			// The inner handler committed only into the buffer; reopen the
			// response so the settlement decision can still shape it.
			response.Committed = false

			if handlerErr != nil || capture.status < http.StatusOK || capture.status >= http.StatusMultipleChoices {
				// The seller produced no sellable output; never settle.
				if handlerErr != nil {
					return handlerErr
				}
				capture.flush(response)
				return nil
			}

			settlement, err := handler.Settle(c.Request().Context(), auth, requirement)
			if err != nil {
				return c.JSON(http.StatusPaymentRequired,
					x402.PaymentRequired(requirement, "settlement-failed: "+err.Error()))
			}
			if !settlement.Success {
				return c.JSON(http.StatusPaymentRequired,
					x402.PaymentRequired(requirement, "settlement-failed: "+settlement.Reason))
			}

			if settleHeader, err := agentmesh.EncodeSettlementHeader(settlement); err == nil {
				response.Header().Set(agentmesh.HeaderPaymentResponse, settleHeader)
			}
			capture.flush(response)
			return nil
		}
	}
}

// responseCapture buffers a response until the middleware releases it.
type responseCapture struct {
	http.ResponseWriter
	body    bytes.Buffer
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

func (w *responseCapture) flush(response *echo.Response) {
	response.WriteHeader(w.status)
	response.Write(w.body.Bytes()) //nolint:errcheck
}
