package graph

import (
	"context"
	"fmt"
	"time"
)

// getNodeTimeout determines the timeout duration for a node based on
// precedence: NodePolicy.Timeout (per-node override), then
// defaultTimeout (engine-wide default), then 0 (unlimited).
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNodeWithTimeout wraps one node call with timeout enforcement per
// §5's "Per-node: configurable on a NodeConfig (default 60s)". On
// deadline exceeded, the call surfaces as a Timeout error and the
// returned Command's updates are ignored by the caller (no partial state
// update is applied).
func executeNodeWithTimeout(
	ctx context.Context,
	fn NodeFunc,
	nodeID string,
	state State,
	rc *RuntimeContext,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (Command, error) {
	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return fn(ctx, state, rc), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := fn(timeoutCtx, state, rc)
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return Command{}, NewNodeError(CodeTimeout, nodeID,
			fmt.Sprintf("node exceeded timeout of %v", timeout), timeoutCtx.Err())
	}
	return result, nil
}
