package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
)

// retryBackoff holds the waits between retries of a transient failure. Three
// retries follow the initial attempt; reverts are never retried.
var retryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// withRetry runs fn and retries transient transport failures with
// exponential backoff. Anything that the node itself rejected (a revert, an
// out-of-range argument) fails immediately: only errors below the
// accepted-by-node line are retried.
func withRetry(ctx context.Context, log *zap.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !transient(err) || attempt >= len(retryBackoff) {
			return err
		}
		log.Warn("retrying after transient failure",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", retryBackoff[attempt]),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return agentmesh.Wrap(agentmesh.KindTimeout, op+" canceled", ctx.Err())
		case <-time.After(retryBackoff[attempt]):
		}
	}
}

// transient reports whether an error is worth retrying. Tagged errors follow
// the taxonomy; raw RPC errors are retried unless they carry a revert.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var tagged *agentmesh.Error
	if errors.As(err, &tagged) {
		return agentmesh.Retryable(err)
	}
	return !strings.Contains(strings.ToLower(err.Error()), "revert")
}
