package payout

import (
	"context"
	"fmt"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// Router sends each payout to the executor registered for its wallet method.
type Router struct {
	executors map[domain.PayoutMethod]ports.PayoutExecutor
}

func NewRouter(executors map[domain.PayoutMethod]ports.PayoutExecutor) *Router {
	copied := make(map[domain.PayoutMethod]ports.PayoutExecutor, len(executors))
	for method, exec := range executors {
		if exec != nil {
			copied[method] = exec
		}
	}
	return &Router{executors: copied}
}

func (r *Router) Execute(ctx context.Context, in ports.PayoutInstruction) (ports.PayoutResult, error) {
	exec, ok := r.executors[in.Method]
	if !ok {
		return ports.PayoutResult{}, fmt.Errorf("no payout executor for method %q", in.Method)
	}
	return exec.Execute(ctx, in)
}
