package graph

import (
	"context"
	"errors"
	"time"
)

func nodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}

// executeWithTimeout runs one attempt of node, bounded by the policy or
// engine default timeout. A deadline hit by the attempt becomes a
// NODE_TIMEOUT engine error; a deadline inherited from ctx is returned as is.
func executeWithTimeout(ctx context.Context, node Node, nodeID string, state State, defaultTimeout time.Duration) (State, string, error) {
	timeout := nodeTimeout(node.policy, defaultTimeout)
	if timeout <= 0 {
		return node.run(ctx, state)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delta, next, err := node.run(attemptCtx, state)
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, "", &EngineError{
			Message: "node " + nodeID + " exceeded timeout of " + timeout.String(),
			Code:    "NODE_TIMEOUT",
			Err:     context.DeadlineExceeded,
		}
	}
	return delta, next, err
}
