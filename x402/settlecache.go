package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/gluenet/agentmesh"
)

// DefaultSettlementTTL is how long a successful settlement is remembered.
// A replay inside the window gets the original receipt instead of a second
// facilitator call.
const DefaultSettlementTTL = 5 * time.Minute

// settlementCache makes settlement idempotent inside one seller process:
// a replayed payment observes the original receipt, and two concurrent
// deliveries of the same payment settle exactly once.
type settlementCache struct {
	mu       sync.Mutex
	results  map[string]agentmesh.SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

func newSettlementCache(ttl time.Duration) *settlementCache {
	if ttl <= 0 {
		ttl = DefaultSettlementTTL
	}
	return &settlementCache{
		results:  make(map[string]agentmesh.SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// paymentFingerprint keys a payment by the hash of its canonical JSON. The
// nonce and signature are part of the encoding, so distinct payments never
// collide.
func paymentFingerprint(auth agentmesh.TransferAuthorization) string {
	raw, err := json.Marshal(auth)
	if err != nil {
		// Marshal of the plain struct cannot fail; keep the signature total.
		return auth.From + ":" + auth.Nonce
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// claim checks the cache and, when the key is unknown, marks it in-flight.
// Exactly one of the returns is meaningful: a cached result, a wait channel
// for another claimant's settlement, or a done channel this caller must
// resolve with complete or release.
func (c *settlementCache) claim(key string) (cached *agentmesh.SettleResponse, wait <-chan struct{}, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.expiry[key]; ok {
		if time.Now().Before(expiry) {
			result := c.results[key]
			return &result, nil, nil
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if inFlight, ok := c.inFlight[key]; ok {
		return nil, inFlight, nil
	}

	done = make(chan struct{})
	c.inFlight[key] = done
	return nil, nil, done
}

// await blocks until an in-flight settlement resolves, then reads its result.
func (c *settlementCache) await(ctx context.Context, key string, wait <-chan struct{}) (*agentmesh.SettleResponse, error) {
	select {
	case <-wait:
		c.mu.Lock()
		defer c.mu.Unlock()
		if expiry, ok := c.expiry[key]; ok && time.Now().Before(expiry) {
			result := c.results[key]
			return &result, nil
		}
		return nil, nil
	case <-ctx.Done():
		return nil, agentmesh.Wrap(agentmesh.KindTimeout, "gave up waiting for in-flight settlement", ctx.Err())
	}
}

// complete caches the settlement outcome and wakes waiters.
func (c *settlementCache) complete(key string, result agentmesh.SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = result
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	now := time.Now()
	for k, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, k)
			delete(c.expiry, k)
		}
	}
}

// release drops the in-flight marker without caching, so a failed attempt
// can be retried by the next request.
func (c *settlementCache) release(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
	close(done)
}
