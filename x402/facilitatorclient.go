// Package x402 implements the pay-to-access HTTP layer: the facilitator
// client, the server-side payment handler that middleware adapters wrap
// around skill endpoints, and the Buyer that drives a purchase end to end.
package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gluenet/agentmesh"
)

const (
	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	// DefaultFacilitatorTimeout bounds a single facilitator round trip.
	// Settles wait for a confirmation, so this is generous.
	DefaultFacilitatorTimeout = 60 * time.Second
)

// facilitatorBackoff holds the waits between retries of a transport
// failure. Facilitator responses, including 503, are never retried here:
// settle is not idempotent from the caller's point of view.
var facilitatorBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// FacilitatorConfig configures a facilitator client.
type FacilitatorConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// FacilitatorClient talks to one facilitator instance.
type FacilitatorClient struct {
	url  string
	http *http.Client
}

// NewFacilitatorClient creates a facilitator client.
func NewFacilitatorClient(cfg FacilitatorConfig) (*FacilitatorClient, error) {
	if cfg.URL == "" {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "facilitator URL is required")
	}
	httpCli := cfg.HTTPClient
	if httpCli == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultFacilitatorTimeout
		}
		httpCli = &http.Client{Timeout: timeout}
	}
	return &FacilitatorClient{url: cfg.URL, http: httpCli}, nil
}

// Verify asks the facilitator whether a payment would settle.
func (c *FacilitatorClient) Verify(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.VerifyResponse, error) {
	var resp agentmesh.VerifyResponse
	err := c.post(ctx, "/verify", agentmesh.VerifyRequest{
		PaymentPayload:      auth,
		PaymentRequirements: req,
	}, &resp, true)
	return resp, err
}

// Settle asks the facilitator to move the payment on-chain. Transport
// failures are not retried: the first attempt may have settled.
func (c *FacilitatorClient) Settle(ctx context.Context, auth agentmesh.TransferAuthorization, req agentmesh.PaymentRequirement) (agentmesh.SettleResponse, error) {
	var resp agentmesh.SettleResponse
	err := c.post(ctx, "/settle", agentmesh.SettleRequest{
		PaymentPayload:      auth,
		PaymentRequirements: req,
	}, &resp, false)
	return resp, err
}

// Supported enumerates the facilitator's settleable kinds.
func (c *FacilitatorClient) Supported(ctx context.Context) (agentmesh.SupportedResponse, error) {
	var resp agentmesh.SupportedResponse
	err := c.get(ctx, "/supported", &resp)
	return resp, err
}

// Health reads the facilitator health report.
func (c *FacilitatorClient) Health(ctx context.Context) (agentmesh.HealthResponse, error) {
	var resp agentmesh.HealthResponse
	err := c.get(ctx, "/health", &resp)
	return resp, err
}

func (c *FacilitatorClient) post(ctx context.Context, path string, body any, out any, retry bool) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return agentmesh.Wrap(agentmesh.KindInternal, "failed to marshal facilitator request", err)
	}

	attempt := 0
	for {
		err = c.roundTrip(ctx, http.MethodPost, path, raw, out)
		if err == nil || !retry || !agentmesh.Retryable(err) || attempt >= len(facilitatorBackoff) {
			return err
		}
		select {
		case <-ctx.Done():
			return agentmesh.Wrap(agentmesh.KindTimeout, "facilitator call canceled", ctx.Err())
		case <-time.After(facilitatorBackoff[attempt]):
		}
		attempt++
	}
}

func (c *FacilitatorClient) get(ctx context.Context, path string, out any) error {
	attempt := 0
	for {
		err := c.roundTrip(ctx, http.MethodGet, path, nil, out)
		if err == nil || !agentmesh.Retryable(err) || attempt >= len(facilitatorBackoff) {
			return err
		}
		select {
		case <-ctx.Done():
			return agentmesh.Wrap(agentmesh.KindTimeout, "facilitator call canceled", ctx.Err())
		case <-time.After(facilitatorBackoff[attempt]):
		}
		attempt++
	}
}

func (c *FacilitatorClient) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return agentmesh.Wrap(agentmesh.KindInternal, "failed to create facilitator request", err)
	}
	if body != nil {
		req.Header.Set(headerContentType, mimeApplicationJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "facilitator unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return agentmesh.Ef(agentmesh.KindRpcUnavailable, "facilitator cannot reach its node: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return agentmesh.Ef(agentmesh.KindNetworkUnavailable, "facilitator %s returned %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return agentmesh.Wrap(agentmesh.KindInternal, fmt.Sprintf("malformed facilitator %s response", path), err)
	}
	return nil
}
