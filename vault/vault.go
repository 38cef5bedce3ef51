// Package vault resolves agent signing keys from a shared secret store.
//
// Resolution order is always: the process-local PRIVATE_KEY environment
// variable first, then the vault record for the agent. User agent records
// live under the nested "user-agents/<name>" path, system agents at the top
// level; callers do not need to know which kind they are asking for.
package vault

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gluenet/agentmesh"
)

const (
	// EnvPrivateKey overrides vault lookup for the whole process.
	EnvPrivateKey = "PRIVATE_KEY"

	// DefaultSecretName is the shared secret holding all agent key records.
	DefaultSecretName = "agent-keys"

	// UserAgentPrefix nests user agent records inside the shared secret.
	UserAgentPrefix = "user-agents/"

	defaultTimeout = 10 * time.Second

	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"
)

// Config configures a vault client. Addr may be empty, in which case only
// the environment override can resolve keys.
type Config struct {
	Addr       string
	Token      string
	SecretName string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client reads agent key records from an HTTP secret store.
type Client struct {
	http       *http.Client
	addr       string
	token      string
	secretName string
}

// New creates a vault client.
func New(cfg Config) *Client {
	httpCli := cfg.HTTPClient
	if httpCli == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpCli = &http.Client{Timeout: timeout}
	}
	secretName := cfg.SecretName
	if secretName == "" {
		secretName = DefaultSecretName
	}
	return &Client{
		http:       httpCli,
		addr:       strings.TrimRight(cfg.Addr, "/"),
		token:      cfg.Token,
		secretName: secretName,
	}
}

// GetPrivateKey resolves the signing key for the named agent.
//
// A whitespace-only PRIVATE_KEY is treated as unset, never as a key. A
// missing record fails with ErrKeyNotFound; an unreachable or timed-out
// vault fails with a network error. There is no zero-key fallback.
func (c *Client) GetPrivateKey(ctx context.Context, agentName string) (*ecdsa.PrivateKey, error) {
	if env := strings.TrimSpace(os.Getenv(EnvPrivateKey)); env != "" {
		return parseKey(env)
	}

	if c.addr == "" {
		return nil, agentmesh.Ef(agentmesh.KindKeyNotFound,
			"no key for agent %q: %s unset and no vault configured", agentName, EnvPrivateKey)
	}

	records, err := c.fetchRecords(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range []string{UserAgentPrefix + agentName, agentName} {
		if raw, ok := records[name]; ok {
			if trimmed := strings.TrimSpace(raw); trimmed != "" {
				return parseKey(trimmed)
			}
		}
	}
	return nil, agentmesh.Ef(agentmesh.KindKeyNotFound, "no key for agent %q in secret %q", agentName, c.secretName)
}

// secretPayload is the wire shape of a shared secret: a flat map of record
// names to hex-encoded keys.
type secretPayload struct {
	Records map[string]string `json:"records"`
}

func (c *Client) fetchRecords(ctx context.Context) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/v1/secret/%s", c.addr, url.PathEscape(c.secretName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "failed to create vault request", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "vault unavailable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, agentmesh.Ef(agentmesh.KindKeyNotFound, "secret %q not found in vault", c.secretName)
	case resp.StatusCode != http.StatusOK:
		return nil, agentmesh.Ef(agentmesh.KindNetworkUnavailable, "vault unavailable: %s", resp.Status)
	}

	var payload secretPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindNetworkUnavailable, "vault unavailable: malformed secret payload", err)
	}
	return payload.Records, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInvalidArgument, "invalid private key", err)
	}
	return key, nil
}
