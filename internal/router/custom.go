package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	ometrics "github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

// customEvaluator runs conditions of type "custom", whose value is a Rego
// rule body evaluated against the routing context. A rule that does not
// compile behaves exactly like an invalid regex pattern: logged once and
// treated as non-matching.
type customEvaluator struct {
	logger *zap.Logger

	mu       sync.RWMutex
	prepared map[string]*rego.PreparedEvalQuery
	failed   map[string]struct{}
}

func newCustomEvaluator(logger *zap.Logger) *customEvaluator {
	return &customEvaluator{
		logger:   logger,
		prepared: make(map[string]*rego.PreparedEvalQuery),
		failed:   make(map[string]struct{}),
	}
}

// Match evaluates the condition's rule body. The rule sees the full routing
// context as input.context plus the condition's own field name and resolved
// value for convenience.
func (c *customEvaluator) Match(ctx context.Context, cond nodeconfig.Condition, ec Context) bool {
	query := c.prepare(ctx, cond.Value)
	if query == nil {
		return false
	}

	input := map[string]interface{}{
		"field":   cond.Field,
		"value":   ec[cond.Field],
		"context": map[string]string(ec),
	}
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		c.logger.Warn("Custom condition evaluation failed; treating as non-matching",
			zap.String("condition_id", cond.ID),
			zap.Error(err),
		)
		return false
	}
	return results.Allowed()
}

func (c *customEvaluator) prepare(ctx context.Context, body string) *rego.PreparedEvalQuery {
	c.mu.RLock()
	query, ok := c.prepared[body]
	_, bad := c.failed[body]
	c.mu.RUnlock()
	if ok {
		return query
	}
	if bad {
		return nil
	}

	module := fmt.Sprintf(
		"package atelier.condition\n\nimport rego.v1\n\ndefault match := false\n\nmatch if {\n%s\n}\n",
		body,
	)
	prepared, err := rego.New(
		rego.Query("data.atelier.condition.match"),
		rego.Module("condition.rego", module),
	).PrepareForEval(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed[body] = struct{}{}
		ometrics.RouterConditionErrors.WithLabelValues("rego").Inc()
		c.logger.Warn("Custom condition does not compile; treating as non-matching",
			zap.Error(err),
		)
		return nil
	}
	c.prepared[body] = &prepared
	return &prepared
}
